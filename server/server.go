package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/navigatorvzhang/web-chatbot/codec"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	initFailedMessage  = "Failed to initialize chat session"
	initDecodeMessage  = "Failed to parse worker response"
	chatFailedMessage  = "Internal server error processing chat request"
	maxRequestBodySize = 1 << 20
)

// Worker services init and chat-turn requests, one worker process per call.
type Worker interface {
	RunInit(ctx context.Context) (*codec.InitResult, error)
	RunChatTurn(ctx context.Context, message string, convCtx json.RawMessage) (*codec.ChatReply, error)
}

// Server is the HTTP front of the worker bridge.
// It holds no per-conversation state: the conversation context travels with every request.
type Server struct {
	logger *zap.SugaredLogger
	worker Worker

	listenAddr string

	httpServer *http.Server
	router     *httprouter.Router
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Named("server").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(s *Server) {
		s.logger = s.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

func New(worker Worker, opts ...Option) *Server {
	s := &Server{
		logger:     zap.NewNop().Sugar(),
		worker:     worker,
		listenAddr: "0.0.0.0:3000",
	}
	for _, o := range opts {
		o(s)
	}

	router := httprouter.New()
	router.GET("/health", s.health)
	router.GET("/init", s.initSession)
	router.POST("/chat", s.chat)
	router.GET("/chat/ws", s.chatWS)
	s.router = router
	s.httpServer = &http.Server{Handler: router}

	return s
}

// Handler returns the routed handler, for embedding in another server or for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until Stop is called.
func (s *Server) Run() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	return s.Serve(listener)
}

func (s *Server) Serve(listener net.Listener) error {
	s.logger.Infow("serving", "Addr", listener.Addr().String())

	err := s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) initSession(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.logger.Info("initializing chat session")

	res, err := s.worker.RunInit(r.Context())
	if err != nil {
		s.logger.Errorw("init failed", "Error", err)
		s.writeJSON(w, http.StatusInternalServerError, codec.InitResponse{
			Status:  codec.StatusError,
			Message: initErrorMessage(err),
		})
		return
	}

	resp, err := codec.NewInitResponse(res)
	if err != nil {
		s.logger.Errorw("building init response", "Error", err)
		s.writeJSON(w, http.StatusInternalServerError, codec.InitResponse{
			Status:  codec.StatusError,
			Message: initDecodeMessage,
		})
		return
	}
	s.logger.Debugw("chat session initialized", "ChatFile", resp.ChatFile)
	s.writeJSON(w, http.StatusOK, resp)
}

func initErrorMessage(err error) string {
	var appErr *codec.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Body.Message
	}
	var decErr *codec.DecodeError
	if errors.As(err, &decErr) {
		return initDecodeMessage
	}
	return initFailedMessage
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var req codec.ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	err := dec.Decode(&req)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, codec.ErrorEnvelope{Error: codec.ErrorBody{
			Message: "invalid request body",
			Details: err.Error(),
		}})
		return
	}

	status, body := s.chatTurn(r.Context(), req)
	s.writeJSON(w, status, body)
}

// chatTurn runs one chat turn and returns the HTTP status and body to send back.
func (s *Server) chatTurn(ctx context.Context, req codec.ChatRequest) (int, any) {
	if err := (codec.Request{Kind: codec.KindChat, Message: req.Message}).Validate(); err != nil {
		return http.StatusBadRequest, codec.ErrorEnvelope{Error: codec.ErrorBody{Message: err.Error()}}
	}
	s.logger.Infow("processing chat request", "Message", preview(req.Message))

	reply, err := s.worker.RunChatTurn(ctx, req.Message, req.Context)
	if err != nil {
		s.logger.Errorw("chat turn failed", "Error", err)
		var appErr *codec.ApplicationError
		if errors.As(err, &appErr) {
			return http.StatusInternalServerError, codec.ErrorEnvelope{Error: appErr.Body}
		}
		return http.StatusInternalServerError, codec.ErrorEnvelope{Error: codec.ErrorBody{
			Message: chatFailedMessage,
			Details: err.Error(),
		}}
	}
	return http.StatusOK, reply
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Errorw("error marshaling response", "Error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(b)
	if err != nil {
		s.logger.Debugf("error writing response: %s", err)
	}
}

func preview(msg string) string {
	r := []rune(msg)
	if len(r) <= 30 {
		return msg
	}
	return string(r[:30]) + "..."
}
