package services

import (
	"database/sql"

	"github.com/TrustLayer-Labs/credentials-api/external"
	"github.com/TrustLayer-Labs/credentials-api/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	// Blocks added to the companion chain head when no expiry offset is requested.
	DefaultExpiryBlocks = 100000
)

type serviceError struct {
	msg  string
	hint string
}

func (e *serviceError) Error() string {
	return e.msg
}

// Hint is an optional remediation shown to the caller next to the error.
func (e *serviceError) Hint() string {
	return e.hint
}

// ValidationError means the caller supplied, or the ledger yielded, data that
// fails a precondition.
type ValidationError struct {
	serviceError
}

func (v *ValidationError) Is(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

// NotFoundError means the entity is absent on the remote ledger.
type NotFoundError struct {
	serviceError
}

func (n *NotFoundError) Is(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// UnavailableError means a required secret or upstream is not configured.
type UnavailableError struct {
	serviceError
}

func (u *UnavailableError) Is(err error) bool {
	_, ok := err.(*UnavailableError)
	return ok
}

// UpstreamError means a ledger lookup failed and no safe answer can be given.
type UpstreamError struct {
	serviceError
}

func (u *UpstreamError) Is(err error) bool {
	_, ok := err.(*UpstreamError)
	return ok
}

// ExecutionError means a prover run or contract call failed.
type ExecutionError struct {
	serviceError
}

func (e *ExecutionError) Is(err error) bool {
	_, ok := err.(*ExecutionError)
	return ok
}

func validationError(msg string) error {
	return &ValidationError{serviceError{msg: msg}}
}

func notFoundError(msg, hint string) error {
	return &NotFoundError{serviceError{msg: msg, hint: hint}}
}

func unavailableError(msg string) error {
	return &UnavailableError{serviceError{msg: msg}}
}

func upstreamError(msg string) error {
	return &UpstreamError{serviceError{msg: msg}}
}

func executionError(msg, hint string) error {
	return &ExecutionError{serviceError{msg: msg, hint: hint}}
}

// ServiceConfig contains the configuration for a Service.
type ServiceConfig struct {
	// DB holds the audit journal. Nil disables it.
	DB   *sql.DB
	Aleo external.ChainQuerier
	// Hook is nil when the companion chain is not configured.
	Hook external.HookContract
	// Prover is nil when snarkos is not available.
	Prover external.Prover
	// CanSign is set when an Aleo private key is configured. Decryption
	// works without one.
	CanSign             bool
	Program             string
	ViewKey             string
	DefaultExpiryBlocks uint64
	Logger              *zap.Logger
	Clock               clockwork.Clock
}

// Services contain business logic, are responsible for interacting with the database,
// and with external services.
// They are called by the API handlers.
type Service struct {
	aleo    external.ChainQuerier
	hook    external.HookContract
	prover  external.Prover
	canSign bool
	program string
	viewKey string

	defaultExpiryBlocks uint64

	// Database
	db               *sql.DB
	addJournalStmt   *sql.Stmt
	listJournalStmt  *sql.Stmt
	countJournalStmt *sql.Stmt

	validate *validator.Validate
	m        *metrics.MetricsRegistry
	logger   *zap.Logger
	clock    clockwork.Clock
}

func NewService(config *ServiceConfig) *Service {
	expiry := config.DefaultExpiryBlocks
	if expiry == 0 {
		expiry = DefaultExpiryBlocks
	}
	return &Service{
		aleo:                config.Aleo,
		hook:                config.Hook,
		prover:              config.Prover,
		canSign:             config.CanSign,
		program:             config.Program,
		viewKey:             config.ViewKey,
		defaultExpiryBlocks: expiry,
		db:                  config.DB,
		validate:            validator.New(validator.WithRequiredStructEnabled()),
		logger:              config.Logger,
		clock:               config.Clock,
	}
}

func (s *Service) Init() error {
	s.m = metrics.NewMetricsRegistry("service")
	if s.db == nil {
		s.logger.Info("Audit journal disabled")
		return nil
	}
	if err := s.createTables(); err != nil {
		return err
	}
	return s.prepareStatements()
}

func (s *Service) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS journal_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			type INTEGER CHECK (type >= 0 AND type <= 6) NOT NULL,
			subject TEXT NOT NULL,
			tx_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS journal_events_type ON journal_events (type, timestamp);
	`)
	return err
}

func (s *Service) prepareStatements() error {
	var err error

	if s.addJournalStmt, err = s.db.Prepare(`
		INSERT INTO journal_events (timestamp, type, subject, tx_id, detail) VALUES (?, ?, ?, ?, ?);
	`); err != nil {
		return err
	}

	if s.listJournalStmt, err = s.db.Prepare(`
		SELECT timestamp, type, subject, tx_id, detail FROM journal_events
		WHERE type = ? ORDER BY id DESC LIMIT ?;
	`); err != nil {
		return err
	}

	if s.countJournalStmt, err = s.db.Prepare(`
		SELECT COUNT(*) FROM journal_events WHERE type = ?;
	`); err != nil {
		return err
	}

	return nil
}

// EthEnabled reports whether the companion chain is configured.
func (s *Service) EthEnabled() bool {
	return s.hook != nil
}

func (s *Service) Program() string {
	return s.program
}

func (s *Service) JournalEnabled() bool {
	return s.addJournalStmt != nil
}

func (s *Service) Deinit() {
	// Close prepared statements
	for _, stmt := range []**sql.Stmt{
		&s.addJournalStmt,
		&s.listJournalStmt,
		&s.countJournalStmt,
	} {
		if *stmt == nil {
			continue
		}
		(*stmt).Close()
		*stmt = nil
	}
}
