// Package server is an in-memory reference implementation of the chat
// server: the /ws live channel plus the /chats and /history endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/rs/cors"

	"github.com/omochice/pairchat/internal/transport"
	"github.com/omochice/pairchat/internal/transport/ws"
	"github.com/omochice/pairchat/pkg/protocol"
)

// anonymous is the username given to connections that did not send one.
const anonymous = "Anonymous"

// Client represents a connected live channel.
type Client struct {
	conn     transport.Conn
	username string
	outgoing chan []byte
}

// Server represents the chat server.
type Server struct {
	address  string
	listener net.Listener
	server   *http.Server
	store    *Store
	log      *slog.Logger

	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Server instance. Pass nil logger for default.
func New(address string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		address: address,
		store:   NewStore(),
		log:     log.With("component", "server"),
		clients: make(map[string]map[*Client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Handler returns the HTTP handler serving every endpoint, wrapped in a
// permissive CORS policy for browser clients.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/chats", s.handleChats)
	mux.HandleFunc("/history", s.handleHistory)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.server = &http.Server{Handler: s.Handler()}
	srv := s.server
	s.mu.Unlock()

	s.log.Info("Server started", "addr", listener.Addr().String())

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop stops the server and closes every live channel.
func (s *Server) Stop() {
	s.cancel()

	s.mu.Lock()
	if s.server != nil {
		_ = s.server.Close()
	}
	for _, conns := range s.clients {
		for client := range conns {
			_ = client.conn.Close()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of connected live channels.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, conns := range s.clients {
		n += len(conns)
	}
	return n
}

// Store returns the message store.
func (s *Server) Store() *Store {
	return s.store
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	s.writeJSON(w, s.store.Chats(username))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	s.writeJSON(w, s.store.History(query.Get("username"), query.Get("receiver")))
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r)
	if err != nil {
		s.log.Warn("Failed to accept WebSocket connection", "error", err)
		return
	}

	username := r.URL.Query().Get("username")
	if username == "" {
		username = anonymous
	}
	client := &Client{
		conn:     conn,
		username: username,
		outgoing: make(chan []byte, 16),
	}
	s.register(client)

	s.wg.Add(2)
	go s.handleClient(client)
	go s.writeLoop(client)
}

func (s *Server) register(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns, ok := s.clients[client.username]
	if !ok {
		conns = make(map[*Client]struct{})
		s.clients[client.username] = conns
	}
	conns[client] = struct{}{}
	s.log.Info("User connected", "username", client.username, "remote", client.conn.RemoteAddr())
}

func (s *Server) unregister(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := s.clients[client.username]
	delete(conns, client)
	if len(conns) == 0 {
		delete(s.clients, client.username)
	}
	close(client.outgoing)
	s.log.Info("User disconnected", "username", client.username)
}

// handleClient reads outbound payloads, stamps the sender from the
// connection, records them and delivers them to both participants.
func (s *Server) handleClient(client *Client) {
	defer s.wg.Done()
	defer client.conn.Close()
	defer s.unregister(client)

	for {
		data, err := client.conn.Read(s.ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				s.log.Warn("Error reading from client", "username", client.username, "error", err)
			}
			return
		}

		var out protocol.Outbound
		if err := out.Decode(data); err != nil {
			s.log.Warn("Failed to decode message", "username", client.username, "error", err)
			continue
		}

		msg := s.store.Append(protocol.Message{
			Sender:    client.username,
			Recipient: out.Recipient,
			Content:   out.Content,
		})
		s.deliver(msg)
	}
}

func (s *Server) writeLoop(client *Client) {
	defer s.wg.Done()
	for data := range client.outgoing {
		if err := client.conn.Write(s.ctx, data); err != nil {
			s.log.Warn("Failed to write to client", "username", client.username, "error", err)
			return
		}
	}
}

// deliver sends msg to every connection of its recipient and echoes it to
// the sender's connections.
func (s *Server) deliver(msg protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("Failed to encode message", "error", err)
		return
	}

	targets := []string{msg.Recipient}
	if msg.Sender != msg.Recipient {
		targets = append(targets, msg.Sender)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, username := range targets {
		if username == "" {
			continue
		}
		for client := range s.clients[username] {
			select {
			case client.outgoing <- data:
			default:
				s.log.Warn("Client channel full, skipping", "username", username)
			}
		}
	}
}
