package integration

import (
	"context"
	"fmt"
	"net"

	"github.com/stretchr/testify/suite"

	"github.com/XL4Y3R/XL4Net-sub000/internal/auth"
	"github.com/XL4Y3R/XL4Net-sub000/internal/config"
	"github.com/XL4Y3R/XL4Net-sub000/internal/db"
)

// GatewaySuite is the base suite for auth gateway integration tests. The
// PostgreSQL container starts once in TestMain; every suite gets its own
// schema, its own gateway server on an ephemeral port and a dialed client.
// Embedding suites may set cfg before calling SetupSuite to change limits.
type GatewaySuite struct {
	suite.Suite
	ctx      context.Context
	cfg      config.AuthServer
	database *db.DB
	accounts *db.PostgresAccountRepository
	attempts *db.PostgresAttemptRepository
	gateway  *auth.Server
	client   *auth.Client
	addr     string

	stopServe context.CancelFunc
}

// SetupSuite runs migrations in a fresh schema and starts the gateway.
func (s *GatewaySuite) SetupSuite() {
	s.ctx = context.Background()
	if s.cfg.TokenSecret == "" {
		s.cfg = testGatewayConfig()
	}

	dsn := acquireSchema(s.T())
	if err := db.RunMigrations(s.ctx, dsn); err != nil {
		s.T().Fatalf("failed to run migrations: %v", err)
	}

	var err error
	s.database, err = db.New(s.ctx, dsn)
	if err != nil {
		s.T().Fatalf("failed to connect to database: %v", err)
	}

	s.accounts = db.NewPostgresAccountRepository(s.database.Pool())
	s.attempts = db.NewPostgresAttemptRepository(s.database.Pool())

	tokens, err := auth.NewTokenManager(s.cfg.TokenSecret, s.cfg.TokenLifetime)
	if err != nil {
		s.T().Fatalf("failed to build token manager: %v", err)
	}
	limiter := auth.NewRateLimiter(s.attempts, s.cfg.RateLimitWindow, s.cfg.RateLimitThreshold)
	service := auth.NewService(s.accounts, s.attempts, tokens, limiter, s.cfg.BcryptCost)

	s.gateway = auth.NewServer(s.cfg, service)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		s.T().Fatalf("failed to listen: %v", err)
	}
	s.addr = ln.Addr().String()

	var serveCtx context.Context
	serveCtx, s.stopServe = context.WithCancel(s.ctx)
	go s.gateway.Serve(serveCtx, ln)

	s.client, err = auth.Dial(s.ctx, s.addr)
	if err != nil {
		s.T().Fatalf("failed to dial gateway: %v", err)
	}
}

// SetupTest wipes account and attempt rows so tests don't see each other.
// The rate limiter reads failures from the database, so this also resets
// any lockout a previous test caused.
func (s *GatewaySuite) SetupTest() {
	if err := s.cleanupTestData(); err != nil {
		s.T().Fatalf("failed to cleanup test data: %v", err)
	}
}

// TearDownSuite stops the gateway and closes the pool. The container is
// terminated in TestMain, the schema dropped via t.Cleanup.
func (s *GatewaySuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
	if s.stopServe != nil {
		s.stopServe()
	}
	if s.database != nil {
		s.database.Close()
	}
}

func (s *GatewaySuite) cleanupTestData() error {
	_, err := s.database.Pool().Exec(s.ctx,
		"TRUNCATE TABLE login_attempts, accounts CASCADE")
	if err != nil {
		return fmt.Errorf("truncating test tables: %w", err)
	}
	return nil
}

// register creates an account through the wire client, failing the test on
// transport errors. Callers assert on the result.
func (s *GatewaySuite) register(username, password string) auth.RegisterResult {
	s.T().Helper()
	res, err := s.client.Register(auth.RegisterRequest{
		Username: username,
		Email:    username + "@test.local",
		Password: password,
		Confirm:  password,
	})
	s.Require().NoError(err)
	return res
}

// login authenticates through the wire client.
func (s *GatewaySuite) login(identifier, password string) auth.LoginResult {
	s.T().Helper()
	res, err := s.client.Login(auth.LoginRequest{Identifier: identifier, Password: password})
	s.Require().NoError(err)
	return res
}
