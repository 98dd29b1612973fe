// Package monitor serves the live training-progress API of SPEC_FULL's
// supplemented monitoring surface: a JWT-gated REST endpoint for the
// current trace snapshot (gin) and a websocket feed that streams new
// trace entries as they are appended (gorilla/websocket), registered
// alongside a gorilla/mux router for the non-gin static route (the
// health check).
package monitor

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/dsgdpp/mf/pkg/logging"
	mftrace "github.com/dsgdpp/mf/pkg/mf/trace"
)

// Server exposes a read-only view of a run's trace log over HTTP.
type Server struct {
	log       *logging.Logger
	signing   []byte
	trace     *mftrace.Log
	upgrader  websocket.Upgrader
	mu        sync.Mutex
	listeners []chan mftrace.Entry
}

// NewServer builds a Server backed by trace, authenticating requests
// with HS256 JWTs signed with signingKey.
func NewServer(log *logging.Logger, signingKey []byte, trace *mftrace.Log) *Server {
	if log == nil {
		log = logging.Nop()
	}
	return &Server{
		log:     log,
		signing: signingKey,
		trace:   trace,
		upgrader: websocket.Upgrader{
			ReadBufferSize: 1024, WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Notify fans a newly appended trace entry out to every connected
// websocket listener. Callers invoke it after mftrace.Log.Append; the
// driver loop in pkg/mf/driver does not call it.
func (s *Server) Notify(e mftrace.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.listeners {
		select {
		case ch <- e:
		default: // drop for a slow listener rather than block the driver loop
		}
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(s.signing) == 0 {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if len(header) < 8 || header[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok := header[7:]
		_, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) {
			return s.signing, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

// GinEngine builds the gin router serving /trace and /trace/stream.
func (s *Server) GinEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	auth := r.Group("/", s.authMiddleware())

	auth.GET("/trace", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"entries": s.trace.Entries()})
	})

	auth.GET("/trace/stream", func(c *gin.Context) {
		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.log.Warn("monitor: websocket upgrade failed", "err", err.Error())
			return
		}
		defer conn.Close()

		ch := make(chan mftrace.Entry, 32)
		s.mu.Lock()
		s.listeners = append(s.listeners, ch)
		s.mu.Unlock()
		defer s.removeListener(ch)

		for e := range ch {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	})

	return r
}

func (s *Server) removeListener(ch chan mftrace.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listeners {
		if l == ch {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			break
		}
	}
	close(ch)
}

// StaticRouter serves the non-gin health endpoint on a separate
// gorilla/mux router, matching the teacher's pattern of keeping its
// lightweight liveness probe outside the main API framework.
func (s *Server) StaticRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}
