package workers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/llm"
	"github.com/joseph-ayodele/receipts-pipeline/internal/retryhttp"
	"github.com/joseph-ayodele/receipts-pipeline/internal/workers"
)

func ptr[T any](v T) *T { return &v }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeAPI answers the callbacks a worker makes and records them.
type fakeAPI struct {
	mu    sync.Mutex
	calls []string
	auth  []string
	codes map[string]int
	fail  []string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	api := &fakeAPI{codes: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(srv.Close)
	return api, srv
}

func (a *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.RequestURI()
	body, _ := io.ReadAll(r.Body)

	a.mu.Lock()
	a.calls = append(a.calls, key)
	a.auth = append(a.auth, r.Header.Get("Authorization"))
	code, ok := a.codes[key]
	if strings.HasSuffix(r.URL.Path, "/fail") {
		var req struct {
			ErrorMessage string `json:"error_message"`
		}
		_ = json.Unmarshal(body, &req)
		a.fail = append(a.fail, req.ErrorMessage)
	}
	a.mu.Unlock()

	if !ok {
		code = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	switch {
	case code != http.StatusOK:
		_, _ = w.Write([]byte(`{"detail":"nope"}`))
	case strings.HasPrefix(r.URL.Path, "/receipts/images/"):
		_, _ = w.Write(jpegBytes)
	case strings.HasPrefix(r.URL.Path, "/purchases/"):
		_, _ = w.Write([]byte(`{"id":7,"total":10,"items":[]}`))
	default:
		_, _ = w.Write([]byte(`{}`))
	}
}

func (a *fakeAPI) called() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

var jpegBytes = append([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), make([]byte, 16)...)

type mockExtractor struct{ mock.Mock }

func (m *mockExtractor) Extract(ctx context.Context, req llm.ExtractRequest) (*entity.PurchaseCreate, []byte, error) {
	args := m.Called(ctx, req)
	p, _ := args.Get(0).(*entity.PurchaseCreate)
	return p, nil, args.Error(1)
}

func apiClient() *retryhttp.Client {
	return retryhttp.New(discard(), retryhttp.WithHeader("Authorization", "Bearer node-secret"))
}

func receipt(srvURL string) entity.Receipt {
	return entity.Receipt{
		ID:            1,
		ReferenceName: "ticket.jpg",
		ImageURL:      srvURL + "/receipts/images/2026/10/abc/20261016093000-1.jpg",
	}
}

func TestImageReaderHappyPath(t *testing.T) {
	api, srv := newFakeAPI(t)
	ext := &mockExtractor{}
	ext.On("Extract", mock.Anything, mock.MatchedBy(func(req llm.ExtractRequest) bool {
		return req.ReceiptID == 1 && strings.HasPrefix(req.ImageDataURL, "data:image/jpeg;base64,")
	})).Return(&entity.PurchaseCreate{Total: ptr(10.0)}, nil).Once()

	r := workers.NewImageReader(apiClient(), srv.URL+"/", ext, discard())
	require.NoError(t, r.Handle(context.Background(), receipt(srv.URL)))

	assert.Equal(t, []string{
		"POST /receipts/1/select",
		"GET /receipts/images/2026/10/abc/20261016093000-1.jpg",
		"POST /purchases/?receipt_id=1",
	}, api.called())
	for _, h := range api.auth {
		assert.Equal(t, "Bearer node-secret", h)
	}
	ext.AssertExpectations(t)
}

func TestImageReaderSkipsTakenReceipt(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.codes["POST /receipts/1/select"] = http.StatusConflict
	ext := &mockExtractor{}

	r := workers.NewImageReader(apiClient(), srv.URL+"/", ext, discard())
	require.NoError(t, r.Handle(context.Background(), receipt(srv.URL)))

	assert.Equal(t, []string{"POST /receipts/1/select"}, api.called())
	ext.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestImageReaderFailsReceipt(t *testing.T) {
	t.Run("extraction error", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		ext := &mockExtractor{}
		ext.On("Extract", mock.Anything, mock.Anything).Return(nil, errors.New("model refused")).Once()

		r := workers.NewImageReader(apiClient(), srv.URL+"/", ext, discard())
		require.NoError(t, r.Handle(context.Background(), receipt(srv.URL)))

		calls := api.called()
		assert.Equal(t, "POST /receipts/1/fail", calls[len(calls)-1])
		assert.Equal(t, []string{"model refused"}, api.fail)
	})

	t.Run("image missing", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		rec := receipt(srv.URL)
		api.codes["GET /receipts/images/2026/10/abc/20261016093000-1.jpg"] = http.StatusNotFound
		ext := &mockExtractor{}

		r := workers.NewImageReader(apiClient(), srv.URL+"/", ext, discard())
		require.NoError(t, r.Handle(context.Background(), rec))

		require.Len(t, api.fail, 1)
		assert.Contains(t, api.fail[0], "download image: status 404: nope")
		ext.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	})

	t.Run("purchase rejected", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		api.codes["POST /purchases/?receipt_id=1"] = http.StatusBadRequest
		ext := &mockExtractor{}
		ext.On("Extract", mock.Anything, mock.Anything).Return(&entity.PurchaseCreate{}, nil).Once()

		r := workers.NewImageReader(apiClient(), srv.URL+"/", ext, discard())
		require.NoError(t, r.Handle(context.Background(), receipt(srv.URL)))

		assert.Equal(t, []string{"Invalid purchase read: nope"}, api.fail)
	})
}

func TestImageReaderReleasesReceiptOnStop(t *testing.T) {
	api, srv := newFakeAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	ext := &mockExtractor{}
	ext.On("Extract", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled).Once()

	r := workers.NewImageReader(apiClient(), srv.URL+"/", ext, discard())
	err := r.Handle(ctx, receipt(srv.URL))
	require.ErrorIs(t, err, context.Canceled)

	calls := api.called()
	assert.Equal(t, "POST /receipts/1/fail", calls[len(calls)-1])
	assert.Equal(t, []string{"Reading interrupted: worker stopped"}, api.fail)
}

type admitterFunc func(ctx context.Context) (int, error)

func (f admitterFunc) Wait(ctx context.Context) (int, error) { return f(ctx) }

type noPacer struct{ calls int }

func (p *noPacer) Wait(context.Context) error {
	p.calls++
	return nil
}

type mockLookup struct{ mock.Mock }

func (m *mockLookup) Find(ctx context.Context, identification string) (*entity.MerchantCreate, error) {
	args := m.Called(ctx, identification)
	mc, _ := args.Get(0).(*entity.MerchantCreate)
	return mc, args.Error(1)
}

func TestEntityFinder(t *testing.T) {
	admitted := func(context.Context) (int, error) { return 1, nil }

	t.Run("found", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		lookup := &mockLookup{}
		lookup.On("Find", mock.Anything, "30712345671").
			Return(&entity.MerchantCreate{Identification: "30712345671", Address: ptr("Main 1")}, nil).Once()
		pacer := &noPacer{}

		f := workers.NewEntityFinder(admitterFunc(admitted), pacer, lookup, apiClient(), srv.URL+"/entities/", discard())
		require.NoError(t, f.Handle(context.Background(), entity.MerchantRequest{Name: "Super", Identification: "30712345671"}))

		assert.Equal(t, []string{"POST /entities/"}, api.called())
		assert.Equal(t, 1, pacer.calls)
		lookup.AssertExpectations(t)
	})

	t.Run("not found is acknowledged", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		lookup := &mockLookup{}
		lookup.On("Find", mock.Anything, "1").Return(nil, workers.ErrEntityNotFound).Once()

		f := workers.NewEntityFinder(admitterFunc(admitted), &noPacer{}, lookup, apiClient(), srv.URL+"/entities/", discard())
		require.NoError(t, f.Handle(context.Background(), entity.MerchantRequest{Identification: "1"}))
		assert.Empty(t, api.called())
	})

	t.Run("admission refused", func(t *testing.T) {
		_, srv := newFakeAPI(t)
		lookup := &mockLookup{}
		refused := errors.New("not eligible")

		f := workers.NewEntityFinder(admitterFunc(func(context.Context) (int, error) { return 0, refused }),
			&noPacer{}, lookup, apiClient(), srv.URL+"/entities/", discard())
		err := f.Handle(context.Background(), entity.MerchantRequest{Identification: "1"})
		assert.ErrorIs(t, err, refused)
		lookup.AssertNotCalled(t, "Find", mock.Anything, mock.Anything)
	})
}

func TestHTTPLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("identification") != "30712345671" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"name":"Super SA","phone":"555"}`))
	}))
	t.Cleanup(srv.Close)
	l := workers.NewHTTPLookup(retryhttp.New(discard()), srv.URL+"/lookup")

	m, err := l.Find(context.Background(), "30712345671")
	require.NoError(t, err)
	assert.Equal(t, "Super SA", m.Name)
	assert.Equal(t, "30712345671", m.Identification)
	require.NotNil(t, m.Phone)
	assert.Equal(t, "555", *m.Phone)

	_, err = l.Find(context.Background(), "1")
	assert.ErrorIs(t, err, workers.ErrEntityNotFound)
}

type mockProductLookup struct{ mock.Mock }

func (m *mockProductLookup) FindProduct(ctx context.Context, code string) (*entity.ProductCreate, error) {
	args := m.Called(ctx, code)
	p, _ := args.Get(0).(*entity.ProductCreate)
	return p, args.Error(1)
}

func TestProductFinder(t *testing.T) {
	admitted := func(context.Context) (int, error) { return 1, nil }
	code := entity.ProductCode{Code: "4006381333931", Format: "EAN_13"}

	t.Run("found", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		lookup := &mockProductLookup{}
		lookup.On("FindProduct", mock.Anything, "4006381333931").
			Return(&entity.ProductCreate{Title: "Pencil"}, nil).Once()
		pacer := &noPacer{}

		f := workers.NewProductFinder(admitterFunc(admitted), pacer, lookup, apiClient(), srv.URL+"/product_codes/", discard())
		require.NoError(t, f.Handle(context.Background(), code))

		assert.Equal(t, []string{"POST /product_codes/"}, api.called())
		assert.Equal(t, 1, pacer.calls)
		lookup.AssertExpectations(t)
	})

	t.Run("already stored is acknowledged", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		api.codes["POST /product_codes/"] = http.StatusConflict
		lookup := &mockProductLookup{}
		lookup.On("FindProduct", mock.Anything, "4006381333931").Return(&entity.ProductCreate{Title: "Pencil"}, nil).Once()

		f := workers.NewProductFinder(admitterFunc(admitted), &noPacer{}, lookup, apiClient(), srv.URL+"/product_codes/", discard())
		assert.NoError(t, f.Handle(context.Background(), code))
	})

	t.Run("rejected body is an error", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		api.codes["POST /product_codes/"] = http.StatusBadRequest
		lookup := &mockProductLookup{}
		lookup.On("FindProduct", mock.Anything, "4006381333931").Return(&entity.ProductCreate{Title: "Pencil"}, nil).Once()

		f := workers.NewProductFinder(admitterFunc(admitted), &noPacer{}, lookup, apiClient(), srv.URL+"/product_codes/", discard())
		assert.ErrorContains(t, f.Handle(context.Background(), code), "status 400: nope")
	})

	t.Run("not found is acknowledged", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		lookup := &mockProductLookup{}
		lookup.On("FindProduct", mock.Anything, "4006381333931").Return(nil, workers.ErrProductNotFound).Once()

		f := workers.NewProductFinder(admitterFunc(admitted), &noPacer{}, lookup, apiClient(), srv.URL+"/product_codes/", discard())
		require.NoError(t, f.Handle(context.Background(), code))
		assert.Empty(t, api.called())
	})

	t.Run("admission refused", func(t *testing.T) {
		_, srv := newFakeAPI(t)
		lookup := &mockProductLookup{}
		refused := errors.New("not eligible")
		pacer := &noPacer{}

		f := workers.NewProductFinder(admitterFunc(func(context.Context) (int, error) { return 0, refused }),
			pacer, lookup, apiClient(), srv.URL+"/product_codes/", discard())
		assert.ErrorIs(t, f.Handle(context.Background(), code), refused)
		assert.Zero(t, pacer.calls)
		lookup.AssertNotCalled(t, "FindProduct", mock.Anything, mock.Anything)
	})
}

func TestHTTPProductLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("code") {
		case "4006381333931":
			_, _ = w.Write([]byte(`{"title":"Pencil","img_urls":["http://img/1.png"]}`))
		case "96385074":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	l := workers.NewHTTPProductLookup(retryhttp.New(discard()), srv.URL+"/lookup?key=k")

	p, err := l.FindProduct(context.Background(), "4006381333931")
	require.NoError(t, err)
	assert.Equal(t, "Pencil", p.Title)
	assert.Equal(t, []string{"http://img/1.png"}, p.ImageURLs)

	_, err = l.FindProduct(context.Background(), "1")
	assert.ErrorIs(t, err, workers.ErrProductNotFound)

	_, err = l.FindProduct(context.Background(), "96385074")
	assert.ErrorContains(t, err, "product lookup: status 502")
}

type fakeConsumer struct {
	done    chan struct{}
	started bool
	stopped int
}

func (c *fakeConsumer) Start(context.Context) error {
	c.started = true
	return nil
}

func (c *fakeConsumer) Done() <-chan struct{} { return c.done }

func (c *fakeConsumer) Stop() { c.stopped++ }

func TestRun(t *testing.T) {
	t.Run("context cancelled", func(t *testing.T) {
		c := &fakeConsumer{done: make(chan struct{})}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, workers.Run(ctx, c))
		assert.True(t, c.started)
		assert.Equal(t, 1, c.stopped)
	})

	t.Run("broker closed", func(t *testing.T) {
		c := &fakeConsumer{done: make(chan struct{})}
		close(c.done)
		assert.ErrorIs(t, workers.Run(context.Background(), c), workers.ErrConsumerClosed)
	})
}
