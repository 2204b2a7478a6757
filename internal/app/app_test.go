package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aave-rate-digest/internal/chain"
	"aave-rate-digest/internal/config"
	"aave-rate-digest/internal/service"
	"aave-rate-digest/internal/storage"
)

type stubReader struct {
	chainID int64
}

func (s *stubReader) ReserveData(context.Context, common.Address, common.Address) (chain.ReserveState, error) {
	supply, _ := new(big.Int).SetString("17742678435827338000000000", 10)
	borrow, _ := new(big.Int).SetString("25037895988736530000000000", 10)
	return chain.ReserveState{
		CurrentLiquidityRate:      supply,
		CurrentVariableBorrowRate: borrow,
		LastUpdateTimestamp:       big.NewInt(1735689600),
		ATokenAddress:             common.HexToAddress("0xD4a0e0b9149BCee3C920d2E00b5dE09138fd8bb7"),
	}, nil
}

func (s *stubReader) BalanceOf(context.Context, common.Address, common.Address) (*big.Int, error) {
	return new(big.Int).Mul(big.NewInt(1500), big.NewInt(1e18)), nil
}

func (s *stubReader) TotalSupply(context.Context, common.Address) (*big.Int, error) {
	return new(big.Int).Mul(big.NewInt(3000), big.NewInt(1e18)), nil
}

func (s *stubReader) BlockNumber(context.Context) (uint64, error) { return 100, nil }

func (s *stubReader) ChainID(context.Context) (*big.Int, error) { return big.NewInt(s.chainID), nil }

func (s *stubReader) Close() {}

func stubDialer(ctx context.Context, _ chain.Options, _ zerolog.Logger) (chain.Reader, error) {
	return &stubReader{chainID: 8453}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Aave: config.AaveConfig{
			Network:        "base",
			RequestTimeout: time.Second,
			Cache:          config.CacheConfig{Enabled: true, TTL: time.Minute},
			Retry:          config.RetryConfig{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
			TargetTokens:   []string{"ETH"},
			TopN:           2,
		},
		Digest: config.DigestConfig{Enabled: true},
		Telegram: config.TelegramConfig{
			BotToken:       "token",
			ChatID:         "-100",
			ParseMode:      "Markdown",
			MaxRetries:     1,
			RequestTimeout: time.Second,
		},
		Export: config.ExportConfig{MaxDataPoints: 100},
	}
}

func newTestApp(cfg *config.Config) (*App, *bytes.Buffer) {
	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	a.dialer = stubDialer
	return a, &out
}

func TestNetworks(t *testing.T) {
	a, out := newTestApp(testConfig())
	require.NoError(t, a.Networks())

	text := out.String()
	assert.Contains(t, text, "base")
	assert.Contains(t, text, "8453")
	assert.Contains(t, text, "ETH,USDC,cbBTC,DAI")
	assert.Contains(t, text, "ethereum")
}

func TestPreviewRendersMarket(t *testing.T) {
	a, out := newTestApp(testConfig())
	require.NoError(t, a.Preview(context.Background()))

	text := out.String()
	assert.Contains(t, text, "🏦 *AAVE Base Market*")
	assert.Contains(t, text, "💰 *ETH*")
	assert.Contains(t, text, "├ 📈 Supply: `1.77%`")
	assert.Contains(t, text, "└ 💧 Liquidity: `1,500`")
}

func TestPreviewGreetingWhenMarketDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Digest = config.DigestConfig{Enabled: false, Message: "gm"}
	a, out := newTestApp(cfg)

	require.NoError(t, a.Preview(context.Background()))
	assert.Equal(t, "👋 gm\n", out.String())
}

func TestPreviewGreetingWhenClientFails(t *testing.T) {
	a, out := newTestApp(testConfig())
	a.dialer = func(context.Context, chain.Options, zerolog.Logger) (chain.Reader, error) {
		return nil, errors.New("dial refused")
	}

	require.NoError(t, a.Preview(context.Background()))
	assert.True(t, strings.HasPrefix(out.String(), "👋 Hello World!"), out.String())
}

func TestHealthPrintsTopRates(t *testing.T) {
	a, out := newTestApp(testConfig())
	require.NoError(t, a.Health(context.Background(), 0))

	text := out.String()
	assert.Contains(t, text, "✅ AAVE Base (chain 8453) healthy")
	assert.Contains(t, text, "Token")
	assert.Contains(t, text, "1.77")
}

func TestHealthFailsOnWrongChain(t *testing.T) {
	a, _ := newTestApp(testConfig())
	a.dialer = func(context.Context, chain.Options, zerolog.Logger) (chain.Reader, error) {
		return &stubReader{chainID: 1}, nil
	}
	require.Error(t, a.Health(context.Background(), 0))
}

type telegramStub struct {
	mu    sync.Mutex
	texts []string
	fail  bool
}

func (s *telegramStub) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"id": 1, "username": "digest_bot"}})
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if s.fail {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": "Bad Request: chat not found"})
				return
			}
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			s.mu.Lock()
			s.texts = append(s.texts, body["text"].(string))
			s.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		default:
			http.NotFound(w, r)
		}
	})
}

func TestRunOnceDeliversDigest(t *testing.T) {
	stub := &telegramStub{}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	cfg := testConfig()
	cfg.Telegram.APIBase = srv.URL
	a, _ := newTestApp(cfg)

	require.NoError(t, a.RunOnce(context.Background()))
	require.Len(t, stub.texts, 1)
	assert.Contains(t, stub.texts[0], "💰 *ETH*")
}

func TestRunOnceReportsDeliveryError(t *testing.T) {
	stub := &telegramStub{fail: true}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	cfg := testConfig()
	cfg.Telegram.APIBase = srv.URL
	a, _ := newTestApp(cfg)

	var delivery *service.DeliveryError
	require.ErrorAs(t, a.RunOnce(context.Background()), &delivery)
}

func TestRunOnceRejectsInvalidBot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 401, "description": "Unauthorized"})
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Telegram.APIBase = srv.URL
	a, _ := newTestApp(cfg)

	var cfgErr *service.ConfigError
	require.ErrorAs(t, a.RunOnce(context.Background()), &cfgErr)
}

func TestShowAndExportRequireDatabase(t *testing.T) {
	a, _ := newTestApp(testConfig())
	require.Error(t, a.Show(context.Background(), ShowOptions{Limit: 10}))
	require.Error(t, a.Export(context.Background(), ExportOptions{Token: "ETH", CSVPath: "out.csv"}))
	require.Error(t, a.Export(context.Background(), ExportOptions{Token: "ETH"}))
	require.Error(t, a.Export(context.Background(), ExportOptions{Token: "DOGE", CSVPath: "out.csv"}))
}

func TestExportWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	from, to, err := exportWindow(ExportOptions{}, now)
	require.NoError(t, err)
	assert.Equal(t, now, to)
	assert.Equal(t, now.Add(-defaultExportWindow), from)

	later := now.Add(time.Hour)
	_, _, err = exportWindow(ExportOptions{From: &later, To: &now}, now)
	require.Error(t, err)
}

func sampleRows(n int) []storage.ReserveSnapshot {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := make([]storage.ReserveSnapshot, n)
	for i := range rows {
		rows[i] = storage.ReserveSnapshot{
			FetchedAt:   start.Add(time.Duration(i) * 24 * time.Hour),
			Network:     "base",
			Token:       "ETH",
			SupplyAPY:   decimal.NewFromFloat(0.01 + float64(i)*0.001),
			BorrowAPY:   decimal.NewFromFloat(0.02 + float64(i)*0.002),
			Utilization: decimal.NewFromFloat(0.5 + float64(i)*0.01),
			Liquidity:   decimal.NewFromInt(int64(1000 + i)),
		}
	}
	return rows
}

func TestDownsampleRows(t *testing.T) {
	rows := sampleRows(10)
	assert.Len(t, downsampleRows(rows, 0), 10)
	assert.Len(t, downsampleRows(rows, 20), 10)

	got := downsampleRows(rows, 4)
	require.Len(t, got, 4)
	assert.Equal(t, rows[0].FetchedAt, got[0].FetchedAt)
	assert.Equal(t, rows[9].FetchedAt, got[3].FetchedAt)

	assert.Equal(t, rows[9:], downsampleRows(rows, 1))
}

func TestWriteRowsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "eth.csv")
	require.NoError(t, writeRowsCSV(path, sampleRows(3)))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "fetched_at", records[0][0])
	assert.Equal(t, []string{"2025-03-01T09:00:00Z", "base", "ETH", "0.01", "0.02", "0.5", "1000"}, records[1])
}

func TestWriteRowsPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eth.png")
	require.NoError(t, writeRowsPNG(path, "ETH", sampleRows(5)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	require.Error(t, writeRowsPNG(path, "ETH", sampleRows(1)))
}
