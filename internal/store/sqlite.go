package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/storyprotocol/eliza/internal/domain"
	"github.com/storyprotocol/eliza/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes score/close writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		username TEXT NOT NULL,
		email TEXT,
		avatar_url TEXT,
		ip_id TEXT,
		wallet_address TEXT,
		wallet_public_key TEXT,
		license_term_id TEXT,
		license_term_uri TEXT,
		registration_tx_ref TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contestant_scores (
		agent_id TEXT PRIMARY KEY,
		score INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS conversation_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		contestant_message TEXT NOT NULL,
		contestant_message_time INTEGER NOT NULL,
		host_response TEXT,
		host_response_time INTEGER,
		interaction_score INTEGER,
		room_id TEXT NOT NULL,
		question TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_open
		ON conversation_logs(agent_id, contestant_message_time DESC)
		WHERE host_response IS NULL;
	CREATE INDEX IF NOT EXISTS idx_conversation_time
		ON conversation_logs(contestant_message_time);

	CREATE TABLE IF NOT EXISTS game_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		round_interval_secs INTEGER NOT NULL,
		starts_at INTEGER,
		ends_at INTEGER,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS game_end_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		step TEXT NOT NULL,
		winner_id TEXT NOT NULL,
		persona_json TEXT NOT NULL,
		child_id TEXT,
		tx_ref TEXT,
		host_license_id TEXT,
		winner_license_id TEXT,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// UpsertAccount creates or refreshes an identity record. Asset metadata is
// only overwritten when the incoming record carries it.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, account *domain.Identity) error {
	query := `
	INSERT INTO accounts (
		id, name, username, email, avatar_url,
		ip_id, wallet_address, wallet_public_key,
		license_term_id, license_term_uri, registration_tx_ref,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		username = excluded.username,
		email = COALESCE(excluded.email, accounts.email),
		avatar_url = COALESCE(excluded.avatar_url, accounts.avatar_url),
		ip_id = COALESCE(excluded.ip_id, accounts.ip_id),
		wallet_address = COALESCE(excluded.wallet_address, accounts.wallet_address),
		wallet_public_key = COALESCE(excluded.wallet_public_key, accounts.wallet_public_key),
		license_term_id = COALESCE(excluded.license_term_id, accounts.license_term_id),
		license_term_uri = COALESCE(excluded.license_term_uri, accounts.license_term_uri),
		registration_tx_ref = COALESCE(excluded.registration_tx_ref, accounts.registration_tx_ref),
		updated_at = excluded.updated_at`

	now := time.Now().Unix()
	createdAt := now
	if !account.CreatedAt.IsZero() {
		createdAt = account.CreatedAt.Unix()
	}

	var ipID, wallet, walletPub, licenseID, licenseURI, txRef interface{}
	if account.Asset != nil {
		ipID = nullable(account.Asset.IPID)
		wallet = nullable(account.Asset.WalletAddress)
		walletPub = nullable(account.Asset.WalletPublicKey)
		licenseID = nullable(account.Asset.LicenseTermID)
		licenseURI = nullable(account.Asset.LicenseTermURI)
		txRef = nullable(account.Asset.RegistrationTxRef)
	}

	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.Name, account.Username,
		nullable(account.Email), nullable(account.AvatarURL),
		ipID, wallet, walletPub, licenseID, licenseURI, txRef,
		createdAt, now,
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// GetAccount retrieves an identity by id.
func (s *SQLiteStore) GetAccount(ctx context.Context, agentID string) (*domain.Identity, error) {
	query := `
		SELECT a.id, a.name, a.username, a.email, a.avatar_url,
		       a.ip_id, a.wallet_address, a.wallet_public_key,
		       a.license_term_id, a.license_term_uri, a.registration_tx_ref,
		       a.created_at, COALESCE(cs.score, 0)
		FROM accounts a
		LEFT JOIN contestant_scores cs ON cs.agent_id = a.id
		WHERE a.id = ?`

	row := s.db.QueryRowContext(ctx, query, agentID)

	var acc domain.Identity
	var email, avatar, ipID, wallet, walletPub, licenseID, licenseURI, txRef sql.NullString
	var createdAt int64

	err := row.Scan(
		&acc.ID, &acc.Name, &acc.Username, &email, &avatar,
		&ipID, &wallet, &walletPub, &licenseID, &licenseURI, &txRef,
		&createdAt, &acc.Score,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan account row: %w", err)
	}

	acc.Email = email.String
	acc.AvatarURL = avatar.String
	acc.CreatedAt = time.Unix(createdAt, 0)
	if ipID.Valid || wallet.Valid || licenseID.Valid || txRef.Valid {
		acc.Asset = &domain.AssetMetadata{
			IPID:              ipID.String,
			WalletAddress:     wallet.String,
			WalletPublicKey:   walletPub.String,
			LicenseTermID:     licenseID.String,
			LicenseTermURI:    licenseURI.String,
			RegistrationTxRef: txRef.String,
		}
	}

	return &acc, nil
}

// InsertEntry inserts a new open conversation entry.
func (s *SQLiteStore) InsertEntry(ctx context.Context, entry *domain.ConversationEntry) (int64, error) {
	query := `
		INSERT INTO conversation_logs (
			agent_id, contestant_message, contestant_message_time, room_id, question
		) VALUES (?, ?, ?, ?, ?)`

	ts := entry.ContestantMessageTime
	if ts.IsZero() {
		ts = time.Now()
	}

	var topic interface{}
	if entry.Topic != nil && *entry.Topic != "" {
		topic = *entry.Topic
	}

	res, err := s.db.ExecContext(ctx, query,
		entry.AgentID, entry.ContestantMessage, ts.UnixMilli(), entry.RoomID, topic,
	)
	if err != nil {
		return 0, fmt.Errorf("insert conversation entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("conversation entry id: %w", err)
	}
	return id, nil
}

// InsertClosedEntry inserts an entry that is opened and closed in one
// statement, carrying its own message as the host response.
func (s *SQLiteStore) InsertClosedEntry(ctx context.Context, entry *domain.ConversationEntry) (int64, error) {
	query := `
		INSERT INTO conversation_logs (
			agent_id, contestant_message, contestant_message_time,
			host_response, host_response_time, interaction_score, room_id, question
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	ts := entry.ContestantMessageTime
	if ts.IsZero() {
		ts = time.Now()
	}

	reply := entry.ContestantMessage
	if entry.HostResponse != nil {
		reply = *entry.HostResponse
	}
	score := 0
	if entry.InteractionScore != nil {
		score = *entry.InteractionScore
	}
	var topic interface{}
	if entry.Topic != nil && *entry.Topic != "" {
		topic = *entry.Topic
	}

	res, err := s.db.ExecContext(ctx, query,
		entry.AgentID, entry.ContestantMessage, ts.UnixMilli(),
		reply, ts.UnixMilli(), score, entry.RoomID, topic,
	)
	if err != nil {
		return 0, fmt.Errorf("insert closed entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("closed entry id: %w", err)
	}
	return id, nil
}

// AddScore additively upserts the running score for an identity. Retries on
// SQLite concurrency errors with exponential backoff.
func (s *SQLiteStore) AddScore(ctx context.Context, agentID string, delta int) error {
	return s.withBusyRetry(ctx, "add score", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		query := `
			INSERT INTO contestant_scores (agent_id, score)
			VALUES (?, ?)
			ON CONFLICT(agent_id) DO UPDATE
			SET score = contestant_scores.score + excluded.score`

		_, err := s.db.ExecContext(ctx, query, agentID, delta)
		return err
	})
}

// CloseLatestOpenEntry closes the most recent open entry for agentID in a
// single conditional update: the open-row selection and the write happen in
// one statement, so concurrent callers cannot close the same row twice.
func (s *SQLiteStore) CloseLatestOpenEntry(ctx context.Context, agentID, reply string, score int, topic string) (bool, error) {
	var matched bool
	err := s.withBusyRetry(ctx, "close open entry", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		query := `
			UPDATE conversation_logs
			SET host_response = ?,
			    host_response_time = ?,
			    interaction_score = ?,
			    question = COALESCE(question, ?)
			WHERE id = (
				SELECT id FROM conversation_logs
				WHERE agent_id = ? AND host_response IS NULL
				ORDER BY contestant_message_time DESC, id DESC
				LIMIT 1
			)`

		var topicArg interface{}
		if topic != "" {
			topicArg = topic
		}

		res, err := s.db.ExecContext(ctx, query,
			reply, time.Now().UnixMilli(), score, topicArg, agentID,
		)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		matched = rows > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("close latest open entry: %w", err)
	}
	return matched, nil
}

// OpenEntry returns the most recent open entry for agentID.
func (s *SQLiteStore) OpenEntry(ctx context.Context, agentID string) (*domain.ConversationEntry, error) {
	query := `
		SELECT id, agent_id, contestant_message, contestant_message_time, room_id, question
		FROM conversation_logs
		WHERE agent_id = ? AND host_response IS NULL
		ORDER BY contestant_message_time DESC, id DESC
		LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, agentID)

	var entry domain.ConversationEntry
	var msgTime int64
	var topic sql.NullString

	err := row.Scan(&entry.ID, &entry.AgentID, &entry.ContestantMessage, &msgTime, &entry.RoomID, &topic)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan open entry: %w", err)
	}

	entry.ContestantMessageTime = time.UnixMilli(msgTime)
	if topic.Valid {
		entry.Topic = &topic.String
	}
	return &entry, nil
}

// Transcripts returns per-identity cumulative scores with interleaved
// transcripts. Identities are grouped; messages within an identity are
// ordered by contestant message time ascending.
func (s *SQLiteStore) Transcripts(ctx context.Context, since, until time.Time, nameFilter string) ([]domain.AgentTranscript, error) {
	query := `
		SELECT cs.agent_id, cs.score,
		       cl.contestant_message, cl.host_response,
		       cl.contestant_message_time, cl.host_response_time,
		       cl.question,
		       a.name, a.username, a.avatar_url
		FROM contestant_scores cs
		LEFT JOIN conversation_logs cl ON cs.agent_id = cl.agent_id
		LEFT JOIN accounts a ON cs.agent_id = a.id
		WHERE cl.contestant_message_time >= ? AND cl.contestant_message_time <= ?`

	args := []interface{}{since.UnixMilli(), until.UnixMilli()}
	if nameFilter != "" {
		query += ` AND a.name = ?`
		args = append(args, nameFilter)
	}
	query += ` ORDER BY cs.agent_id, cl.contestant_message_time ASC, cl.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close transcript rows", "error", closeErr)
		}
	}()

	var order []string
	byAgent := make(map[string]*domain.AgentTranscript)
	topicsSeen := make(map[string]map[string]bool)

	for rows.Next() {
		var agentID string
		var score int
		var message, response, name, username, avatar sql.NullString
		var msgTime, respTime sql.NullInt64
		var topic sql.NullString

		if err := rows.Scan(
			&agentID, &score, &message, &response,
			&msgTime, &respTime, &topic,
			&name, &username, &avatar,
		); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}

		t, ok := byAgent[agentID]
		if !ok {
			display := username.String
			if display == "" {
				display = name.String
			}
			if display == "" {
				display = agentID
			}
			picture := avatar.String
			if picture == "" {
				picture = fmt.Sprintf("https://example.com/%s.jpg", agentID)
			}
			t = &domain.AgentTranscript{
				AgentID: agentID,
				Name:    display,
				Score:   score,
				Profile: domain.Profile{
					Name:        firstNonEmpty(name.String, agentID),
					PictureURL:  picture,
					Description: fmt.Sprintf("Contestant %s", firstNonEmpty(name.String, agentID)),
				},
			}
			byAgent[agentID] = t
			topicsSeen[agentID] = make(map[string]bool)
			order = append(order, agentID)
		}

		if message.Valid {
			t.Messages = append(t.Messages, domain.TranscriptMessage{
				Name:      t.Name,
				Content:   message.String,
				CreatedAt: time.UnixMilli(msgTime.Int64),
			})
			if response.Valid {
				t.Messages = append(t.Messages, domain.TranscriptMessage{
					Name:      "host",
					Content:   response.String,
					CreatedAt: time.UnixMilli(respTime.Int64),
				})
			}
		}
		if topic.Valid && topic.String != "" && !topicsSeen[agentID][topic.String] {
			topicsSeen[agentID][topic.String] = true
			t.Topics = append(t.Topics, topic.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}

	transcripts := make([]domain.AgentTranscript, 0, len(order))
	for _, id := range order {
		transcripts = append(transcripts, *byAgent[id])
	}
	return transcripts, nil
}

// Standings returns all scored identities, highest score first.
func (s *SQLiteStore) Standings(ctx context.Context) ([]domain.Standing, error) {
	query := `
		SELECT cs.agent_id, COALESCE(a.name, cs.agent_id), cs.score
		FROM contestant_scores cs
		LEFT JOIN accounts a ON cs.agent_id = a.id
		ORDER BY cs.score DESC, cs.agent_id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query standings: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close standings rows", "error", closeErr)
		}
	}()

	var standings []domain.Standing
	for rows.Next() {
		var st domain.Standing
		if err := rows.Scan(&st.AgentID, &st.Name, &st.Score); err != nil {
			return nil, fmt.Errorf("scan standing row: %w", err)
		}
		standings = append(standings, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate standings: %w", err)
	}
	return standings, nil
}

// TopContestant returns the highest-scoring identity, excluding the host.
func (s *SQLiteStore) TopContestant(ctx context.Context, hostID string) (*domain.Standing, error) {
	query := `
		SELECT cs.agent_id, COALESCE(a.name, cs.agent_id), cs.score
		FROM contestant_scores cs
		LEFT JOIN accounts a ON cs.agent_id = a.id
		WHERE cs.agent_id != ?
		ORDER BY cs.score DESC, cs.agent_id ASC
		LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, hostID)

	var st domain.Standing
	err := row.Scan(&st.AgentID, &st.Name, &st.Score)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan top contestant: %w", err)
	}
	return &st, nil
}

// UpsertGameConfig writes the singleton pacing record.
func (s *SQLiteStore) UpsertGameConfig(ctx context.Context, cfg *domain.GameConfig) error {
	query := `
		INSERT INTO game_config (id, round_interval_secs, starts_at, ends_at, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			round_interval_secs = excluded.round_interval_secs,
			starts_at = excluded.starts_at,
			ends_at = excluded.ends_at,
			updated_at = excluded.updated_at`

	var startsAt, endsAt interface{}
	if !cfg.StartsAt.IsZero() {
		startsAt = cfg.StartsAt.Unix()
	}
	if !cfg.EndsAt.IsZero() {
		endsAt = cfg.EndsAt.Unix()
	}

	_, err := s.db.ExecContext(ctx, query,
		int64(cfg.RoundInterval.Seconds()), startsAt, endsAt, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert game config: %w", err)
	}
	return nil
}

// GetGameConfig reads the singleton pacing record.
func (s *SQLiteStore) GetGameConfig(ctx context.Context) (*domain.GameConfig, error) {
	query := `SELECT round_interval_secs, starts_at, ends_at, updated_at FROM game_config WHERE id = 1`

	row := s.db.QueryRowContext(ctx, query)

	var intervalSecs, updatedAt int64
	var startsAt, endsAt sql.NullInt64

	err := row.Scan(&intervalSecs, &startsAt, &endsAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan game config: %w", err)
	}

	cfg := &domain.GameConfig{
		RoundInterval: time.Duration(intervalSecs) * time.Second,
		UpdatedAt:     time.Unix(updatedAt, 0),
	}
	if startsAt.Valid {
		cfg.StartsAt = time.Unix(startsAt.Int64, 0)
	}
	if endsAt.Valid {
		cfg.EndsAt = time.Unix(endsAt.Int64, 0)
	}
	return cfg, nil
}

// SaveGameEndState persists the registration-protocol saga cursor. Every
// intermediate identifier is written before the next external step runs.
func (s *SQLiteStore) SaveGameEndState(ctx context.Context, state *domain.GameEndState) error {
	query := `
		INSERT INTO game_end_state (
			id, step, winner_id, persona_json, child_id, tx_ref,
			host_license_id, winner_license_id, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			step = excluded.step,
			winner_id = excluded.winner_id,
			persona_json = excluded.persona_json,
			child_id = COALESCE(excluded.child_id, game_end_state.child_id),
			tx_ref = COALESCE(excluded.tx_ref, game_end_state.tx_ref),
			host_license_id = COALESCE(excluded.host_license_id, game_end_state.host_license_id),
			winner_license_id = COALESCE(excluded.winner_license_id, game_end_state.winner_license_id),
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		state.Step, state.WinnerID, state.PersonaJSON,
		nullable(state.ChildID), nullable(state.TxRef),
		nullable(state.HostLicenseID), nullable(state.WinnerLicenseID),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save game end state: %w", err)
	}
	return nil
}

// GetGameEndState reads the persisted saga cursor.
func (s *SQLiteStore) GetGameEndState(ctx context.Context) (*domain.GameEndState, error) {
	query := `
		SELECT step, winner_id, persona_json, child_id, tx_ref,
		       host_license_id, winner_license_id, updated_at
		FROM game_end_state WHERE id = 1`

	row := s.db.QueryRowContext(ctx, query)

	var state domain.GameEndState
	var childID, txRef, hostLicense, winnerLicense sql.NullString
	var updatedAt int64

	err := row.Scan(
		&state.Step, &state.WinnerID, &state.PersonaJSON,
		&childID, &txRef, &hostLicense, &winnerLicense, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan game end state: %w", err)
	}

	state.ChildID = childID.String
	state.TxRef = txRef.String
	state.HostLicenseID = hostLicense.String
	state.WinnerLicenseID = winnerLicense.String
	state.UpdatedAt = time.Unix(updatedAt, 0)
	return &state, nil
}

// ClearGameEndState removes the saga cursor after a completed protocol.
func (s *SQLiteStore) ClearGameEndState(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM game_end_state WHERE id = 1`); err != nil {
		return fmt.Errorf("clear game end state: %w", err)
	}
	return nil
}

// SaveDerivedIdentity persists the minted identity record as an account row
// carrying its registration references.
func (s *SQLiteStore) SaveDerivedIdentity(ctx context.Context, derived *domain.DerivedIdentity) error {
	personaJSON, err := json.Marshal(derived.Persona)
	if err != nil {
		return fmt.Errorf("marshal persona: %w", err)
	}

	account := &domain.Identity{
		ID:       derived.ID,
		Name:     derived.Persona.Name,
		Username: derived.Persona.Name,
		Email:    string(personaJSON),
		Asset: &domain.AssetMetadata{
			IPID:              derived.RegistrationID,
			WalletAddress:     derived.WalletAddress,
			RegistrationTxRef: derived.TxRef,
			LicenseTermID:     strings.Join(derived.LicenseIDs, ","),
		},
	}
	if err := s.UpsertAccount(ctx, account); err != nil {
		return fmt.Errorf("save derived identity: %w", err)
	}
	return nil
}

// ResetGame truncates all conversation, score, account and saga state.
func (s *SQLiteStore) ResetGame(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tables := []string{"conversation_logs", "contestant_scores", "accounts", "game_config", "game_end_state"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

// withBusyRetry runs fn, retrying with exponential backoff when SQLite
// reports a concurrency conflict.
func (s *SQLiteStore) withBusyRetry(ctx context.Context, op string, fn func() error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("sqlite conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
