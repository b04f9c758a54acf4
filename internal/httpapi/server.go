// Package httpapi is the REST surface of the service. Handlers decode the
// request, resolve the caller for the org in the path and hand off to the
// core services; errors are mapped through apperr.
package httpapi

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/access"
	"github.com/PaulBabatuyi/realtyhub/internal/accounts"
	"github.com/PaulBabatuyi/realtyhub/internal/auth"
	"github.com/PaulBabatuyi/realtyhub/internal/contacts"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/folders"
	"github.com/PaulBabatuyi/realtyhub/internal/middleware"
	"github.com/PaulBabatuyi/realtyhub/internal/obs"
	"github.com/PaulBabatuyi/realtyhub/internal/orgs"
	"github.com/PaulBabatuyi/realtyhub/internal/rooms"
)

// Deps are the services behind the API. Live, Metrics and AuthLimiter are
// optional.
type Deps struct {
	Accounts *accounts.Service
	Orgs     *orgs.Service
	Contacts *contacts.Service
	Rooms    *rooms.Manager
	Folders  *folders.Service
	Resolver *access.Resolver
	JWT      *auth.JWTManager

	Live        http.Handler
	Metrics     *obs.Metrics
	AuthLimiter *middleware.LimiterStore

	AllowedOrigins []string
	Logger         *log.Logger
}

// Server routes HTTP requests to the core services.
type Server struct {
	accounts *accounts.Service
	orgs     *orgs.Service
	contacts *contacts.Service
	rooms    *rooms.Manager
	folders  *folders.Service
	resolver *access.Resolver
	jwt      *auth.JWTManager

	allowedOrigins []string
	logger         *log.Logger
	router         *mux.Router
}

// New builds the router.
func New(d Deps) *Server {
	s := &Server{
		accounts:       d.Accounts,
		orgs:           d.Orgs,
		contacts:       d.Contacts,
		rooms:          d.Rooms,
		folders:        d.Folders,
		resolver:       d.Resolver,
		jwt:            d.JWT,
		allowedOrigins: d.AllowedOrigins,
		logger:         d.Logger.With("component", "http"),
	}

	r := mux.NewRouter()
	r.Use(s.requestLog)
	if d.Metrics != nil {
		r.Use(d.Metrics.Instrument)
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if d.Live != nil {
		r.Handle("/live", d.Live)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.cors)
	// preflight requests carry no credentials
	api.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	public := api.NewRoute().Subrouter()
	if d.AuthLimiter != nil {
		public.Use(middleware.RateLimit(d.AuthLimiter))
	}
	public.HandleFunc("/register", s.register).Methods(http.MethodPost)
	public.HandleFunc("/login", s.login).Methods(http.MethodPost)
	public.HandleFunc("/shares/{token}/open", s.openShare).Methods(http.MethodPost)

	priv := api.NewRoute().Subrouter()
	priv.Use(s.authenticate)
	priv.HandleFunc("/me", s.me).Methods(http.MethodGet)
	priv.HandleFunc("/invites/{code}", s.redeemInvite).Methods(http.MethodPost)
	priv.HandleFunc("/orgs", s.createOrg).Methods(http.MethodPost)

	org := priv.PathPrefix("/orgs/{orgId}").Subrouter()
	org.HandleFunc("/agents", s.listAgents).Methods(http.MethodGet)
	org.HandleFunc("/agents", s.addAgent).Methods(http.MethodPost)

	org.HandleFunc("/contacts", s.listContacts).Methods(http.MethodGet)
	org.HandleFunc("/contacts", s.createContact).Methods(http.MethodPost)
	org.HandleFunc("/contacts/{contactId}", s.getContact).Methods(http.MethodGet)
	org.HandleFunc("/contacts/{contactId}", s.deleteContact).Methods(http.MethodDelete)

	org.HandleFunc("/rooms", s.listRooms).Methods(http.MethodGet)
	org.HandleFunc("/rooms", s.createChannel).Methods(http.MethodPost)
	org.HandleFunc("/dms", s.openDM).Methods(http.MethodPost)
	org.HandleFunc("/rooms/{roomId}/messages", s.listMessages).Methods(http.MethodGet)
	org.HandleFunc("/rooms/{roomId}/messages", s.sendMessage).Methods(http.MethodPost)
	org.HandleFunc("/rooms/{roomId}/messages/{messageId}", s.editMessage).Methods(http.MethodPatch)
	org.HandleFunc("/rooms/{roomId}/read", s.markRead).Methods(http.MethodPost)

	org.HandleFunc("/folders", s.listFolder).Methods(http.MethodGet)
	org.HandleFunc("/folders", s.createFolder).Methods(http.MethodPost)
	org.HandleFunc("/folders/{id}", s.deleteFolder).Methods(http.MethodDelete)
	org.HandleFunc("/uploads", s.requestUpload).Methods(http.MethodPost)
	org.HandleFunc("/files", s.createFile).Methods(http.MethodPost)
	org.HandleFunc("/files/{id}", s.deleteFile).Methods(http.MethodDelete)
	org.HandleFunc("/files/{id}/download", s.download).Methods(http.MethodGet)
	org.HandleFunc("/files/{id}/links", s.createFileShare).Methods(http.MethodPost)
	org.HandleFunc("/{kind:folders|files}/{id}", s.rename).Methods(http.MethodPatch)
	org.HandleFunc("/{kind:folders|files}/{id}/share", s.share).Methods(http.MethodPost)
	org.HandleFunc("/move", s.move).Methods(http.MethodPost)
	org.HandleFunc("/shares/{token}/copy", s.copyShare).Methods(http.MethodPost)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// caller resolves the authenticated user within the org in the path.
func (s *Server) caller(r *http.Request) (access.Caller, error) {
	org, err := pathID(r, "orgId")
	if err != nil {
		return nil, err
	}
	return s.resolver.ResolveCaller(r.Context(), claimsOf(r).Username, org)
}

// agent resolves the authenticated user as an agent of the org in the path
// with at least role min.
func (s *Server) agent(r *http.Request, min data.Role) (access.AgentCaller, error) {
	org, err := pathID(r, "orgId")
	if err != nil {
		return access.AgentCaller{}, err
	}
	return s.resolver.Agent(r.Context(), claimsOf(r).Username, org, min)
}

func orgAndRoom(r *http.Request) (bson.ObjectID, bson.ObjectID, error) {
	org, err := pathID(r, "orgId")
	if err != nil {
		return bson.ObjectID{}, bson.ObjectID{}, err
	}
	room, err := pathID(r, "roomId")
	if err != nil {
		return bson.ObjectID{}, bson.ObjectID{}, err
	}
	return org, room, nil
}
