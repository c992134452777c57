package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/zulandar/bolttrack/internal/allocator"
	"github.com/zulandar/bolttrack/internal/apperr"
	"github.com/zulandar/bolttrack/internal/audit"
	"github.com/zulandar/bolttrack/internal/employee"
	"github.com/zulandar/bolttrack/internal/gap"
	"github.com/zulandar/bolttrack/internal/ledger"
	"github.com/zulandar/bolttrack/internal/roll"
	"github.com/zulandar/bolttrack/internal/scanner"
	"github.com/zulandar/bolttrack/internal/session"
	"github.com/zulandar/bolttrack/internal/size"
	"github.com/zulandar/bolttrack/internal/stats"
)

// Identity headers.
const (
	HeaderScannerID  = "X-Scanner-ID"
	HeaderEmployeeID = "X-Employee-ID"
)

func identity(c *gin.Context) roll.Identity {
	return roll.Identity{
		ScannerID:  strings.TrimSpace(c.GetHeader(HeaderScannerID)),
		EmployeeID: strings.TrimSpace(c.GetHeader(HeaderEmployeeID)),
		IPAddress:  c.ClientIP(),
	}
}

// respondError writes the categorized error body.
func (s *server) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		s.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(apperr.HTTPStatus(kind), gin.H{"error": apperr.Message(err), "kind": kind.String()})
}

// bind decodes the JSON body into req and maps binding failures to
// validation errors.
func bind(c *gin.Context, req any) error {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return apperr.Validation("invalid request: %s", strings.Join(fields, ", "))
	}
	if errors.Is(err, io.EOF) {
		return apperr.Validation("request body is required")
	}
	var syntax *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntax) || errors.As(err, &typeErr) {
		return apperr.Validation("invalid JSON body")
	}
	return apperr.Validation("invalid request: %v", err)
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return n, nil
}

func queryTime(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperr.Validation("%s must be RFC 3339 or YYYY-MM-DD", name)
}

func (s *server) bucketQuery(c *gin.Context) (int, string, error) {
	year, err := queryInt(c, "year", time.Now().Year())
	if err != nil {
		return 0, "", err
	}
	sz := c.Query("size")
	if sz == "" {
		return 0, "", apperr.Validation("size is required")
	}
	return year, sz, nil
}

// --- barcodes ---

func (s *server) handleNextSequence(c *gin.Context) {
	year, sz, err := s.bucketQuery(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	seq, err := allocator.NextSequence(s.db, year, sz)
	if err != nil {
		s.respondError(c, apperr.Internal(err, "next sequence"))
		return
	}
	c.JSON(http.StatusOK, seq)
}

type generateRequest struct {
	Year     int    `json:"year" binding:"required"`
	Size     string `json:"size" binding:"required,alphanum"`
	Quantity int    `json:"quantity" binding:"required"`
}

func (s *server) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := bind(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	id := identity(c)
	res, err := s.alloc.Allocate(c.Request.Context(), allocator.Request{
		Year:       req.Year,
		Size:       req.Size,
		Quantity:   req.Quantity,
		Actor:      id.EmployeeID,
		EmployeeID: id.EmployeeID,
		IPAddress:  id.IPAddress,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *server) handleGaps(c *gin.Context) {
	year, sz, err := s.bucketQuery(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	report, err := gap.Scan(s.db, year, sz)
	if err != nil {
		s.respondError(c, apperr.Internal(err, "gap scan"))
		return
	}
	c.JSON(http.StatusOK, report)
}

// --- mobile ---

func (s *server) handleScanStatus(c *gin.Context) {
	st, err := roll.Status(s.db, c.Param("barcode"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type transactionRequest struct {
	Barcode    string   `json:"barcode" binding:"required"`
	Type       string   `json:"type" binding:"required"`
	Metre      float64  `json:"metre"`
	Weight     float64  `json:"weight"`
	Percentage *float64 `json:"percentage"`
	SessionID  string   `json:"session_id"`
	Details    string   `json:"details"`
}

func (s *server) handleTransaction(c *gin.Context) {
	var req transactionRequest
	if err := bind(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.rolls.Transact(c.Request.Context(), roll.TxRequest{
		Barcode:    req.Barcode,
		Type:       req.Type,
		Metre:      req.Metre,
		Weight:     req.Weight,
		Percentage: req.Percentage,
		SessionID:  req.SessionID,
		Details:    req.Details,
		Identity:   identity(c),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type batchRequest struct {
	Barcodes  []string `json:"barcodes" binding:"required,min=1"`
	SessionID string   `json:"session_id"`
}

func (s *server) handleBatchOut(c *gin.Context) {
	var req batchRequest
	if err := bind(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.rolls.BatchStockOut(c.Request.Context(), roll.BatchRequest{
		Barcodes:  req.Barcodes,
		SessionID: req.SessionID,
		Identity:  identity(c),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *server) handleMissingScans(c *gin.Context) {
	rows, err := ledger.ListPending(s.db, 0)
	if err != nil {
		s.respondError(c, apperr.Internal(err, "list missing scans"))
		return
	}
	c.JSON(http.StatusOK, rows)
}

// --- inventory ---

func (s *server) handleGetRoll(c *gin.Context) {
	r, err := roll.Get(s.db, c.Param("barcode"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type updateRequest struct {
	Metre      *float64 `json:"metre"`
	Weight     *float64 `json:"weight"`
	Percentage *float64 `json:"percentage"`
	Status     string   `json:"status"`
}

func (s *server) handleUpdateRoll(c *gin.Context) {
	var req updateRequest
	if err := bind(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.rolls.AdminUpdate(c.Request.Context(), c.Param("barcode"), roll.UpdateRequest{
		Metre:      req.Metre,
		Weight:     req.Weight,
		Percentage: req.Percentage,
		Status:     req.Status,
		Identity:   identity(c),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *server) handleDeleteRoll(c *gin.Context) {
	code := c.Param("barcode")
	reseeded, err := s.rolls.Delete(c.Request.Context(), code, identity(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"barcode": code, "deleted": true, "reseeded": reseeded})
}

func (s *server) handleMarkDamaged(c *gin.Context) {
	row, err := s.rolls.MarkDamaged(c.Request.Context(), c.Param("barcode"), identity(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

// --- sessions ---

type createSessionRequest struct {
	Type       string `json:"type" binding:"required"`
	TargetSize string `json:"target_size" binding:"required"`
	CreatedBy  string `json:"created_by"`
}

func (s *server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := bind(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	id := identity(c)
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = id.EmployeeID
	}
	sess, err := s.sessions.Create(c.Request.Context(), session.CreateOpts{
		Direction:  req.Type,
		TargetSize: req.TargetSize,
		CreatedBy:  createdBy,
		ScannerID:  id.ScannerID,
		IPAddress:  id.IPAddress,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *server) handleActiveSessions(c *gin.Context) {
	list, err := session.ListActive(s.db, s.staleAfter, time.Now().UTC())
	if err != nil {
		s.respondError(c, apperr.Internal(err, "list active sessions"))
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *server) handleSessionHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		s.respondError(c, err)
		return
	}
	list, err := session.History(s.db, limit)
	if err != nil {
		s.respondError(c, apperr.Internal(err, "session history"))
		return
	}
	c.JSON(http.StatusOK, list)
}

type joinRequest struct {
	ScannerID string `json:"scanner_id"`
}

func (s *server) handleJoinSession(c *gin.Context) {
	var req joinRequest
	if c.Request.ContentLength > 0 {
		if err := bind(c, &req); err != nil {
			s.respondError(c, err)
			return
		}
	}
	scannerID := req.ScannerID
	if scannerID == "" {
		scannerID = identity(c).ScannerID
	}
	sess, err := s.sessions.Join(c.Request.Context(), c.Param("id"), scannerID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *server) handlePreviewSession(c *gin.Context) {
	p, err := session.BuildPreview(s.db, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type endRequest struct {
	StampTotals bool `json:"stamp_totals"`
}

func (s *server) handleEndSession(c *gin.Context) {
	var req endRequest
	if c.Request.ContentLength > 0 {
		if err := bind(c, &req); err != nil {
			s.respondError(c, err)
			return
		}
	}
	id := identity(c)
	sess, err := s.sessions.End(c.Request.Context(), c.Param("id"), session.EndOpts{
		StampTotals: req.StampTotals,
		Actor:       id.EmployeeID,
		IPAddress:   id.IPAddress,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *server) handleSessionSummary(c *gin.Context) {
	sum, err := session.BuildSummary(s.db, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- registries ---

func (s *server) handleListSizes(c *gin.Context) {
	list, err := size.List(s.db)
	if err != nil {
		s.respondError(c, apperr.Internal(err, "list sizes"))
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *server) handleSizeStats(c *gin.Context) {
	list, err := size.AllStats(s.db)
	if err != nil {
		s.respondError(c, apperr.Internal(err, "size stats"))
		return
	}
	c.JSON(http.StatusOK, list)
}

type addSizeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (s *server) handleAddSize(c *gin.Context) {
	var req addSizeRequest
	if err := bind(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	sz, err := size.Add(s.db, req.Code)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sz)
}

func (s *server) handleDeleteSize(c *gin.Context) {
	if err := size.Delete(s.db, c.Param("code")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) handleListScanners(c *gin.Context) {
	list, err := scanner.List(s.db)
	if err != nil {
		s.respondError(c, apperr.Internal(err, "list scanners"))
		return
	}
	c.JSON(http.StatusOK, list)
}

type registerScannerRequest struct {
	ScannerID string `json:"scanner_id" binding:"required"`
	Name      string `json:"name"`
}

func (s *server) handleRegisterScanner(c *gin.Context) {
	var req registerScannerRequest
	if err := bind(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	sc, err := scanner.Register(s.db, req.ScannerID, req.Name)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

func (s *server) handleDeleteScanner(c *gin.Context) {
	if err := scanner.Delete(s.db, c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) handleListEmployees(c *gin.Context) {
	list, err := employee.List(s.db)
	if err != nil {
		s.respondError(c, apperr.Internal(err, "list employees"))
		return
	}
	c.JSON(http.StatusOK, list)
}

type addEmployeeRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *server) handleAddEmployee(c *gin.Context) {
	var req addEmployeeRequest
	if err := bind(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	e, err := employee.Add(s.db, req.Name)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (s *server) handleTerminateEmployee(c *gin.Context) {
	if err := employee.Terminate(s.db, c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- stats and audit ---

func (s *server) handleDashboard(c *gin.Context) {
	from, err := queryTime(c, "from")
	if err != nil {
		s.respondError(c, err)
		return
	}
	to, err := queryTime(c, "to")
	if err != nil {
		s.respondError(c, err)
		return
	}
	d, err := stats.BuildDashboard(s.db, stats.Window{From: from, To: to})
	if err != nil {
		s.respondError(c, apperr.Internal(err, "dashboard"))
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *server) handleStatsList(c *gin.Context) {
	rows, err := stats.List(s.db, c.Param("kind"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *server) handleAuditLogs(c *gin.Context) {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		s.respondError(c, err)
		return
	}
	rows, err := audit.List(s.db, limit)
	if err != nil {
		s.respondError(c, apperr.Internal(err, "audit logs"))
		return
	}
	c.JSON(http.StatusOK, rows)
}
