package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"i4.energy/across/atlink/at"
	"i4.energy/across/atlink/modem"
	"i4.energy/across/atlink/pdu"
)

// Gateway is the modem surface the HTTP API uses.
type Gateway interface {
	IMEI(ctx context.Context) (string, error)
	SignalStrength(ctx context.Context) (modem.SignalStrength, error)
	BatteryStatus(ctx context.Context) (modem.BatteryStatus, error)
	RegistrationStatus(ctx context.Context) (modem.RegistrationStatus, error)
	Operator(ctx context.Context) (modem.Operator, error)
	OwnNumber(ctx context.Context) (string, error)
	ListSMS(ctx context.Context, status modem.SMSStatus) (modem.SMSReadResult, error)
	ReadSMS(ctx context.Context, index int) (modem.SMS, error)
	DeleteSMS(ctx context.Context, index int) error
	ReadPhoneBook(ctx context.Context, storage string) (modem.PhoneBookContent, error)
	ReadPhoneBookRecord(ctx context.Context, index int) (modem.PhoneBookRecord, error)
	SendUSSD(ctx context.Context, code string) (modem.USSDResponse, error)
	SendUSSDRaw(ctx context.Context, code string) (modem.USSDResponse, error)
	SendRaw(ctx context.Context, cmd string) (at.Response, error)
	Profile() modem.Profile
	Done() <-chan struct{}
}

// Queue is the outgoing message queue the HTTP API feeds.
type Queue interface {
	Enqueuer
	Job(id string) (Job, bool)
}

// SMSRequest is the body of a send request.
type SMSRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger   *slog.Logger
	Modem    Gateway
	Queue    Queue
	Hub      *Hub
	Gatherer prometheus.Gatherer

	// Token, when set, is required as a bearer token on API routes.
	Token          string
	AllowedOrigins []string

	once    sync.Once
	handler http.Handler
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(func() { s.handler = s.routes() })
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// API routes sit on the root router so a known path with the wrong
	// method answers 405 instead of falling through to 404.
	api := func(path string, handler http.HandlerFunc, method string) {
		r.Handle(path, s.authenticate(handler)).Methods(method)
	}
	api("/sms", s.handleSMS, http.MethodPost)
	api("/sms", s.handleListSMS, http.MethodGet)
	api("/sms/jobs/{id}", s.handleJob, http.MethodGet)
	api("/sms/{index:[0-9]+}", s.handleReadSMS, http.MethodGet)
	api("/sms/{index:[0-9]+}", s.handleDeleteSMS, http.MethodDelete)
	api("/modem", s.handleModem, http.MethodGet)
	api("/phonebook", s.handlePhoneBook, http.MethodGet)
	api("/phonebook/{index:[0-9]+}", s.handlePhoneBookRecord, http.MethodGet)
	api("/ussd", s.handleUSSD, http.MethodPost)
	api("/at", s.handleAT, http.MethodPost)
	api("/events", s.handleEvents, http.MethodGet)

	if len(s.AllowedOrigins) == 0 {
		return cors.AllowAll().Handler(r)
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(r)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token != s.Token {
				s.sendError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)

}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

// sendModemError maps an operation failure to a status code.
func (s *Server) sendModemError(w http.ResponseWriter, err error) {
	var atErr *at.Error
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pdu.ErrTooLong):
		status = http.StatusBadRequest
	case errors.Is(err, modem.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, at.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, at.ErrClosed), errors.Is(err, modem.ErrAlreadyClosed):
		status = http.StatusServiceUnavailable
	case errors.As(err, &atErr), errors.Is(err, at.ErrMalformedResponse),
		errors.Is(err, modem.ErrMalformedBatch), errors.Is(err, at.ErrNoPrompt):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.Logger.Error("Modem operation failed", "error", err, "status", status)
	}
	s.sendError(w, err.Error(), status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.Modem.Done():
		s.sendError(w, "modem connection lost", http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

// handleSMS queues a message for sending
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	var req SMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.To == "" || req.Message == "" {
		s.sendError(w, "both 'to' and 'message' fields are required", http.StatusBadRequest)
		return
	}

	job, err := s.Queue.Enqueue(req.To, req.Message)
	switch {
	case errors.Is(err, pdu.ErrTooLong):
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrQueueFull):
		s.sendError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.Logger.Info("SMS queued", "id", job.ID, "to", req.To, "message_length", len(req.Message))
	s.sendJSON(w, job, http.StatusAccepted)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.Queue.Job(mux.Vars(r)["id"])
	if !ok {
		s.sendError(w, "job not found", http.StatusNotFound)
		return
	}
	s.sendJSON(w, job, http.StatusOK)
}

type smsResponse struct {
	Index     int        `json:"index"`
	Status    string     `json:"status"`
	Sender    string     `json:"sender"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Text      string     `json:"text"`
}

func newSMSResponse(m modem.SMS) smsResponse {
	resp := smsResponse{Index: m.Index, Status: m.Status.String(), Sender: m.Sender, Text: m.Text}
	if !m.Timestamp.IsZero() {
		resp.Timestamp = &m.Timestamp
	}
	return resp
}

func (s *Server) handleListSMS(w http.ResponseWriter, r *http.Request) {
	status := modem.AllMessages
	if q := r.URL.Query().Get("status"); q != "" {
		st, err := modem.ParseSMSStatus(strings.ToUpper(q))
		if err != nil {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		status = st
	}

	result, err := s.Modem.ListSMS(r.Context(), status)
	if err != nil {
		s.sendModemError(w, err)
		return
	}

	type unrecognized struct {
		Metadata string `json:"metadata"`
		PDU      string `json:"pdu"`
		Error    string `json:"error"`
	}
	type listResponse struct {
		Messages     []smsResponse  `json:"messages"`
		Unrecognized []unrecognized `json:"unrecognized"`
	}
	resp := listResponse{Messages: []smsResponse{}, Unrecognized: []unrecognized{}}
	for _, m := range result.Records {
		resp.Messages = append(resp.Messages, newSMSResponse(m))
	}
	for _, u := range result.Unrecognized {
		resp.Unrecognized = append(resp.Unrecognized, unrecognized{Metadata: u.Metadata, PDU: u.PDU, Error: u.Err.Error()})
	}
	s.sendJSON(w, resp, http.StatusOK)
}

// pathIndex returns the numeric {index} route variable.
func pathIndex(r *http.Request) int {
	index, _ := strconv.Atoi(mux.Vars(r)["index"])
	return index
}

func (s *Server) handleReadSMS(w http.ResponseWriter, r *http.Request) {
	m, err := s.Modem.ReadSMS(r.Context(), pathIndex(r))
	if err != nil {
		s.sendModemError(w, err)
		return
	}
	s.sendJSON(w, newSMSResponse(m), http.StatusOK)
}

func (s *Server) handleDeleteSMS(w http.ResponseWriter, r *http.Request) {
	if err := s.Modem.DeleteSMS(r.Context(), pathIndex(r)); err != nil {
		s.sendModemError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleModem reports identity and network state. Queries other than
// IMEI that the modem rejects are left out of the response.
func (s *Server) handleModem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	imei, err := s.Modem.IMEI(ctx)
	if err != nil {
		s.sendModemError(w, err)
		return
	}

	type signal struct {
		RSSI int  `json:"rssi"`
		BER  int  `json:"ber"`
		DBm  *int `json:"dbm,omitempty"`
	}
	type battery struct {
		Charging int `json:"charging"`
		Level    int `json:"level"`
		Voltage  int `json:"voltage,omitempty"`
	}
	type registration struct {
		Status     int    `json:"status"`
		Text       string `json:"text"`
		Registered bool   `json:"registered"`
	}
	type modemResponse struct {
		IMEI         string        `json:"imei"`
		Profile      string        `json:"profile"`
		Signal       *signal       `json:"signal,omitempty"`
		Battery      *battery      `json:"battery,omitempty"`
		Registration *registration `json:"registration,omitempty"`
		Operator     string        `json:"operator,omitempty"`
		OwnNumber    string        `json:"own_number,omitempty"`
	}
	resp := modemResponse{IMEI: imei, Profile: s.Modem.Profile().Name}

	logSkip := func(query string, err error) {
		s.Logger.Debug("Modem query failed", "query", query, "error", err)
	}
	if st, err := s.Modem.SignalStrength(ctx); err == nil {
		resp.Signal = &signal{RSSI: st.RSSI, BER: st.BER}
		if dbm, ok := st.DBm(); ok {
			resp.Signal.DBm = &dbm
		}
	} else {
		logSkip("signal", err)
	}
	if b, err := s.Modem.BatteryStatus(ctx); err == nil {
		resp.Battery = &battery{Charging: b.Charging, Level: b.Level, Voltage: b.Voltage}
	} else {
		logSkip("battery", err)
	}
	if reg, err := s.Modem.RegistrationStatus(ctx); err == nil {
		resp.Registration = &registration{Status: int(reg), Text: reg.String(), Registered: reg.Registered()}
	} else {
		logSkip("registration", err)
	}
	if op, err := s.Modem.Operator(ctx); err == nil {
		resp.Operator = op.Name
	} else {
		logSkip("operator", err)
	}
	if num, err := s.Modem.OwnNumber(ctx); err == nil {
		resp.OwnNumber = num
	} else {
		logSkip("own number", err)
	}
	s.sendJSON(w, resp, http.StatusOK)
}

func (s *Server) handlePhoneBook(w http.ResponseWriter, r *http.Request) {
	storage := r.URL.Query().Get("storage")
	if storage == "" {
		storage = modem.StorageSIM
	}
	content, err := s.Modem.ReadPhoneBook(r.Context(), strings.ToUpper(storage))
	if err != nil {
		s.sendModemError(w, err)
		return
	}
	s.sendJSON(w, map[string]any{
		"storage":  content.Storage,
		"used":     content.Used,
		"capacity": content.Capacity,
	}, http.StatusOK)
}

func (s *Server) handlePhoneBookRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Modem.ReadPhoneBookRecord(r.Context(), pathIndex(r))
	if err != nil {
		s.sendModemError(w, err)
		return
	}
	s.sendJSON(w, map[string]any{
		"index":  rec.Index,
		"number": rec.Number,
		"title":  rec.Title,
	}, http.StatusOK)
}

func (s *Server) handleUSSD(w http.ResponseWriter, r *http.Request) {
	type USSDRequest struct {
		Code string `json:"code"`
		// Raw sends Code without encoding it.
		Raw bool `json:"raw"`
	}
	var req USSDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Code == "" {
		s.sendError(w, "'code' field is required", http.StatusBadRequest)
		return
	}

	send := s.Modem.SendUSSD
	if req.Raw {
		send = s.Modem.SendUSSDRaw
	}
	resp, err := send(r.Context(), req.Code)
	if err != nil {
		s.sendModemError(w, err)
		return
	}
	s.sendJSON(w, resp, http.StatusOK)
}

// handleAT passes a command through. A final error line is reported in
// the response body, not as a failed request.
func (s *Server) handleAT(w http.ResponseWriter, r *http.Request) {
	type ATRequest struct {
		Command string `json:"command"`
	}
	var req ATRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !strings.HasPrefix(strings.ToUpper(req.Command), "AT") {
		s.sendError(w, "'command' must start with AT", http.StatusBadRequest)
		return
	}

	resp, err := s.Modem.SendRaw(r.Context(), req.Command)
	var atErr *at.Error
	if err != nil && !errors.As(err, &atErr) {
		s.sendModemError(w, err)
		return
	}

	type ATResponse struct {
		Success       bool     `json:"success"`
		Intermediates []string `json:"intermediates"`
		Final         string   `json:"final"`
	}
	lines := resp.Intermediates
	if lines == nil {
		lines = []string{}
	}
	s.Logger.Info("Raw command executed", "command", req.Command, "final", resp.Final)
	s.sendJSON(w, ATResponse{Success: resp.Success, Intermediates: lines, Final: resp.Final}, http.StatusOK)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents upgrades the connection to a WebSocket and streams modem
// events to the client.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel := s.Hub.Subscribe(100)
	defer cancel()

	// the reader notices a client disconnect
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case msg, ok := <-ch:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
