package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/avdeenko/simflow/internal/config"
	"github.com/avdeenko/simflow/internal/provider"
	"github.com/avdeenko/simflow/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type HTTPHandlerTestSuite struct {
	suite.Suite
	router       *gin.Engine
	ledger       *store.Ledger
	backend      *httptest.Server
	backendReply string
}

func (s *HTTPHandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	s.backendReply = ""
	s.backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(s.backendReply))
	}))

	dir := s.T().TempDir()
	credsPath := filepath.Join(dir, "credentials.json")
	require.NoError(s.T(), os.WriteFile(credsPath, []byte(`{"sms_activate_api_key": "test-key"}`), 0o644))

	cfg, err := config.LoadConfig("")
	require.NoError(s.T(), err)
	cfg.Provider.BaseURL = s.backend.URL
	cfg.Provider.CredentialsPath = credsPath
	cfg.Provider.APIKeyName = "sms_activate_api_key"
	cfg.Ledger.Path = filepath.Join(dir, "phone_numbers.json")

	creds := provider.NewCredentialStore(credsPath, logger)
	client := provider.NewClient(&cfg.Provider, creds, logger)
	s.ledger = store.NewLedger(&cfg.Ledger, logger)

	handler := NewHTTPHandler(nil, client, s.ledger, nil, nil, cfg, logger)

	s.router = gin.New()
	s.router.GET("/health", handler.Health)
	s.router.GET("/api/v1/ledger", handler.ListNumbers)
	s.router.GET("/api/v1/ledger/stats", handler.LedgerStats)
	s.router.GET("/api/v1/prices/cheapest", handler.GetCheapestCountry)
	s.router.GET("/api/v1/statistics/recent", handler.RecentVerifications)
}

func (s *HTTPHandlerTestSuite) TearDownTest() {
	s.backend.Close()
}

func (s *HTTPHandlerTestSuite) get(path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(s.T(), err)
	s.router.ServeHTTP(w, req)

	var body map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestHTTPHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(HTTPHandlerTestSuite))
}

func (s *HTTPHandlerTestSuite) TestHealth() {
	w, body := s.get("/health")
	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.Equal(s.T(), "healthy", body["status"])
}

func (s *HTTPHandlerTestSuite) TestListLedger() {
	require.NoError(s.T(), s.ledger.AddNumber("5511999887766", "73", "act-1", "go"))

	w, body := s.get("/api/v1/ledger")
	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.Equal(s.T(), float64(1), body["total"])
}

func (s *HTTPHandlerTestSuite) TestLedgerStats() {
	require.NoError(s.T(), s.ledger.AddNumber("5511999887766", "73", "act-1", "go"))
	require.NoError(s.T(), s.ledger.AddNumber("5511999887766", "73", "act-2", "tg"))

	w, body := s.get("/api/v1/ledger/stats")
	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.Equal(s.T(), float64(1), body["total_numbers"])
	assert.Equal(s.T(), float64(1), body["total_reuses"])
}

func (s *HTTPHandlerTestSuite) TestCheapestCountry() {
	s.backendReply = `{
		"73":  {"go": {"cost": 25.0, "count": 10}},
		"151": {"go": {"cost": 12.5, "count": 3}}
	}`

	w, body := s.get("/api/v1/prices/cheapest?service=go")
	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.Equal(s.T(), "151", body["country"])
	assert.Equal(s.T(), "Chile", body["name"])
	assert.Equal(s.T(), 12.5, body["price"])
}

func (s *HTTPHandlerTestSuite) TestCheapestCountry_RequiresService() {
	w, _ := s.get("/api/v1/prices/cheapest")
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
}

func (s *HTTPHandlerTestSuite) TestCheapestCountry_NoInventory() {
	s.backendReply = `{"73": {"go": {"cost": 25.0, "count": 0}}}`

	w, _ := s.get("/api/v1/prices/cheapest?service=go")
	assert.Equal(s.T(), http.StatusNotFound, w.Code)
}

func (s *HTTPHandlerTestSuite) TestRecentVerifications_WithoutHistory() {
	w, _ := s.get("/api/v1/statistics/recent")
	assert.Equal(s.T(), http.StatusServiceUnavailable, w.Code)
}
