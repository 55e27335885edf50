package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"TaniLedger/internal/core"
	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"
	"TaniLedger/internal/ingestion"
	"TaniLedger/internal/observability"
	"TaniLedger/internal/query"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// Deps holds everything the HTTP and gRPC surfaces need.
type Deps struct {
	Submitter *ingestion.Submitter
	Query     *query.QueryService
	Health    *observability.HealthChecker
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
}

// HTTPServer is the presentation-layer JSON API.
type HTTPServer struct {
	deps   Deps
	router *gin.Engine
	addr   string
	srv    *http.Server
}

func NewHTTPServer(addr string, deps Deps) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{deps: deps, router: router, addr: addr}
	router.Use(s.observe())
	s.setupRoutes()
	return s
}

// Handler exposes the router for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) setupRoutes() {
	s.router.GET("/healthz", s.liveness)
	s.router.GET("/readyz", s.readiness)

	v1 := s.router.Group("/v1")

	assets := v1.Group("/assets")
	assets.POST("", handle(s, func(_ *gin.Context, _ *event.RegisterAsset) error { return nil }))
	assets.POST("/:id/verify", handle(s, func(c *gin.Context, cmd *event.VerifyAsset) error {
		return pathID(c, "id", &cmd.AssetID)
	}))
	assets.POST("/:id/issue", handle(s, func(c *gin.Context, cmd *event.IssueUnits) error {
		return pathID(c, "id", &cmd.AssetID)
	}))
	assets.POST("/:id/transfer", handle(s, func(c *gin.Context, cmd *event.TransferUnits) error {
		return pathID(c, "id", &cmd.AssetID)
	}))
	assets.POST("/:id/stages", handle(s, func(c *gin.Context, cmd *event.RecordSupplyChainStage) error {
		return pathID(c, "id", &cmd.AssetID)
	}))
	assets.GET("/:id", s.getAsset)
	assets.GET("/:id/farmland", s.getFarmland)

	listings := v1.Group("/listings")
	listings.POST("", handle(s, func(_ *gin.Context, _ *event.CreateListing) error { return nil }))
	listings.POST("/:id/purchase", handle(s, func(c *gin.Context, cmd *event.PurchaseListing) error {
		return pathID(c, "id", &cmd.ListingID)
	}))
	listings.POST("/:id/cancel", handle(s, func(c *gin.Context, cmd *event.CancelListing) error {
		return pathID(c, "id", &cmd.ListingID)
	}))
	listings.GET("", s.activeListings)
	listings.GET("/:id", s.getListing)

	loans := v1.Group("/loans")
	loans.POST("", handle(s, func(_ *gin.Context, _ *event.ProposeLoan) error { return nil }))
	loans.POST("/:id/fund", handle(s, func(c *gin.Context, cmd *event.FundLoan) error {
		return pathID(c, "id", &cmd.LoanID)
	}))
	loans.POST("/:id/repay", handle(s, func(c *gin.Context, cmd *event.RepayLoan) error {
		return pathID(c, "id", &cmd.LoanID)
	}))
	loans.POST("/:id/default", handle(s, func(c *gin.Context, cmd *event.MarkDefault) error {
		return pathID(c, "id", &cmd.LoanID)
	}))
	loans.POST("/:id/liquidate", handle(s, func(c *gin.Context, cmd *event.Liquidate) error {
		return pathID(c, "id", &cmd.LoanID)
	}))
	loans.GET("/open", s.openLoans)
	loans.GET("/:id", s.getLoan)

	accounts := v1.Group("/accounts/:holder")
	accounts.POST("/withdraw", handle(s, func(c *gin.Context, cmd *event.WithdrawFunds) error {
		cmd.Holder = c.Param("holder")
		return nil
	}))
	accounts.GET("/balances", s.cashBalances)
	accounts.GET("/journals", s.journals)

	v1.GET("/owners/:owner/farmlands", s.ownerFarmlands)
	v1.GET("/owners/:owner/assets", s.ownerAssets)
	v1.GET("/sellers/:seller/listings", s.sellerListings)
	v1.GET("/borrowers/:borrower/loans", s.borrowerLoans)
	v1.GET("/lenders/:lender/loans", s.lenderLoans)
	v1.GET("/holdings/:holder", s.holdings)
	v1.GET("/events", s.events)
	v1.GET("/admin/integrity", s.integrity)
}

// Start serves until ctx is cancelled.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.deps.Logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.deps.Logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- middleware ---

func (s *HTTPServer) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		endpoint = c.Request.Method + " " + endpoint
		status := c.Writer.Status()
		elapsed := time.Since(start)

		if m := s.deps.Metrics; m != nil {
			m.APIRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
			m.APIDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
		}
		s.deps.Logger.Debug().
			Str("endpoint", endpoint).
			Int("status", status).
			Dur("duration", elapsed).
			Msg("request")
	}
}

// --- commands ---

// handle decodes a command body, lets bind apply path parameters, and submits
// it. Path parameters override the body.
func handle[T event.Event](s *HTTPServer, bind func(*gin.Context, T) error) gin.HandlerFunc {
	var zero T
	et := zero.EventType()
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			s.fail(c, lerrors.InvalidArgument.New("read body: %v", err))
			return
		}
		if len(strings.TrimSpace(string(body))) == 0 {
			body = []byte("{}")
		}

		evt, err := event.DecodeCommand(et, body)
		if err != nil {
			s.fail(c, lerrors.InvalidArgument.New("invalid %s body: %v", et, err))
			return
		}
		cmd, ok := evt.(T)
		if !ok {
			s.fail(c, lerrors.Internal.New("command type mismatch for %s", et))
			return
		}
		if err := bind(c, cmd); err != nil {
			s.fail(c, err)
			return
		}
		if evt.IdempotencyKey() == "" {
			ingestion.Stamp(evt, c.GetHeader(requestIDHeader), time.Now())
		}

		receipt, err := s.deps.Submitter.Submit(c.Request.Context(), evt)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Header(requestIDHeader, receipt.RequestID)
		c.JSON(http.StatusCreated, receipt)
	}
}

// --- queries ---

func (s *HTTPServer) getAsset(c *gin.Context) {
	var id uint64
	if err := pathID(c, "id", &id); err != nil {
		s.fail(c, err)
		return
	}
	s.reply(c)(s.deps.Query.GetAsset(c.Request.Context(), id))
}

func (s *HTTPServer) getFarmland(c *gin.Context) {
	var id uint64
	if err := pathID(c, "id", &id); err != nil {
		s.fail(c, err)
		return
	}
	s.reply(c)(s.deps.Query.GetFarmland(c.Request.Context(), id))
}

func (s *HTTPServer) activeListings(c *gin.Context) {
	if v := c.Query("active"); v != "" && v != "true" {
		s.fail(c, lerrors.InvalidArgument.New("only active=true listings are indexed"))
		return
	}
	var assetID uint64
	if v := c.Query("asset_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.fail(c, lerrors.InvalidArgument.New("invalid asset_id %q", v))
			return
		}
		assetID = id
	}
	s.reply(c)(s.deps.Query.ActiveListings(c.Request.Context(), assetID))
}

func (s *HTTPServer) getListing(c *gin.Context) {
	var id uint64
	if err := pathID(c, "id", &id); err != nil {
		s.fail(c, err)
		return
	}
	s.reply(c)(s.deps.Query.GetListing(c.Request.Context(), id))
}

func (s *HTTPServer) getLoan(c *gin.Context) {
	var id uint64
	if err := pathID(c, "id", &id); err != nil {
		s.fail(c, err)
		return
	}
	s.reply(c)(s.deps.Query.GetLoan(c.Request.Context(), id))
}

func (s *HTTPServer) openLoans(c *gin.Context) {
	s.reply(c)(s.deps.Query.OpenLoanProposals(c.Request.Context()))
}

func (s *HTTPServer) ownerFarmlands(c *gin.Context) {
	s.reply(c)(s.deps.Query.FarmlandsByOwner(c.Request.Context(), c.Param("owner")))
}

func (s *HTTPServer) ownerAssets(c *gin.Context) {
	s.reply(c)(s.deps.Query.AssetsByOwner(c.Request.Context(), c.Param("owner")))
}

func (s *HTTPServer) sellerListings(c *gin.Context) {
	s.reply(c)(s.deps.Query.ListingsBySeller(c.Request.Context(), c.Param("seller")))
}

func (s *HTTPServer) borrowerLoans(c *gin.Context) {
	s.reply(c)(s.deps.Query.BorrowerLoans(c.Request.Context(), c.Param("borrower")))
}

func (s *HTTPServer) lenderLoans(c *gin.Context) {
	s.reply(c)(s.deps.Query.LenderLoans(c.Request.Context(), c.Param("lender")))
}

func (s *HTTPServer) holdings(c *gin.Context) {
	s.reply(c)(s.deps.Query.Holdings(c.Request.Context(), c.Param("holder")))
}

func (s *HTTPServer) cashBalances(c *gin.Context) {
	s.reply(c)(s.deps.Query.CashBalances(c.Request.Context(), c.Param("holder")))
}

func (s *HTTPServer) journals(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		s.fail(c, err)
		return
	}
	before, err := queryInt(c, "before")
	if err != nil {
		s.fail(c, err)
		return
	}
	s.reply(c)(s.deps.Query.JournalHistory(c.Request.Context(), c.Param("holder"), int(limit), before))
}

func (s *HTTPServer) events(c *gin.Context) {
	after, err := queryInt(c, "after")
	if err != nil {
		s.fail(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		s.fail(c, err)
		return
	}
	s.reply(c)(s.deps.Query.TailEvents(c.Request.Context(), after, int(limit)))
}

func (s *HTTPServer) integrity(c *gin.Context) {
	s.reply(c)(s.deps.Query.VerifyIntegrity(c.Request.Context()))
}

// --- health ---

func (s *HTTPServer) liveness(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, observability.HealthReport{Status: "alive"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Health.Liveness())
}

func (s *HTTPServer) readiness(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, observability.HealthReport{Status: "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	report, ok := s.deps.Health.Readiness(ctx)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

// --- helpers ---

// reply adapts a (value, error) query result into a response.
func (s *HTTPServer) reply(c *gin.Context) func(any, error) {
	return func(v any, err error) {
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

// fail writes err as a typed error body with its HTTP status.
func (s *HTTPServer) fail(c *gin.Context, err error) {
	status := lerrors.As(err).HTTPStatus()
	if errors.Is(err, core.ErrRunnerStopped) {
		status = http.StatusServiceUnavailable
	}
	body := lerrors.ToBody(err)

	endpoint := c.Request.Method + " " + c.FullPath()
	if m := s.deps.Metrics; m != nil {
		m.APIErrors.WithLabelValues(endpoint, body.Name).Inc()
	}
	ev := s.deps.Logger.Debug()
	if status >= http.StatusInternalServerError {
		ev = s.deps.Logger.Error()
	}
	ev.Str("endpoint", endpoint).Str("code", body.Name).Str("error", body.Message).Msg("request failed")

	c.AbortWithStatusJSON(status, body)
}

func pathID(c *gin.Context, name string, dst *uint64) error {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return lerrors.InvalidArgument.New("invalid %s %q", name, raw).WithMetadata(name, raw)
	}
	*dst = id
	return nil
}

func queryInt(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, lerrors.InvalidArgument.New("invalid %s %q", name, raw)
	}
	return n, nil
}
