package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/me/obscore/pkg/model"
)

const ctxKeyWorkerAuth ctxKey = "worker_auth"

// WorkerAuthContext holds authenticated worker info for a request.
type WorkerAuthContext struct {
	KeyID   string   // Hash of the key (for logging, not the raw key)
	Modules []string // Modules this key may execute; empty means any
}

// WorkerAuthFromContext extracts the WorkerAuthContext from request context.
func WorkerAuthFromContext(ctx context.Context) *WorkerAuthContext {
	if wc, ok := ctx.Value(ctxKeyWorkerAuth).(*WorkerAuthContext); ok {
		return wc
	}
	return nil
}

// WorkerKeyConfig maps worker keys to the modules they may execute.
type WorkerKeyConfig struct {
	Keys map[string]WorkerKeyEntry `json:"keys"`
}

// WorkerKeyEntry defines the modules and metadata for a worker key.
type WorkerKeyEntry struct {
	Modules     []string `json:"modules"`
	Description string   `json:"description,omitempty"`
}

// LoadWorkerKeyConfig loads worker key configuration from multiple sources.
// Priority: 1. JSON file, 2. Environment variable (OBSCORE_WORKER_KEYS)
func LoadWorkerKeyConfig(configFile string) *WorkerKeyConfig {
	cfg := &WorkerKeyConfig{
		Keys: make(map[string]WorkerKeyEntry),
	}

	if configFile != "" {
		if data, err := os.ReadFile(configFile); err == nil {
			var fileCfg WorkerKeyConfig
			if err := json.Unmarshal(data, &fileCfg); err == nil {
				for k, v := range fileCfg.Keys {
					cfg.Keys[k] = v
				}
			}
		}
	}

	// Format: {"key1": ["module-a", "module-b"], "key2": []}
	if envVal := os.Getenv("OBSCORE_WORKER_KEYS"); envVal != "" {
		var envKeys map[string][]string
		if err := json.Unmarshal([]byte(envVal), &envKeys); err == nil {
			for key, modules := range envKeys {
				cfg.Keys[key] = WorkerKeyEntry{Modules: modules}
			}
		}
	}

	return cfg
}

// ValidateKey checks if a key is valid and returns its entry.
// Returns nil if the key is invalid.
func (c *WorkerKeyConfig) ValidateKey(key string) *WorkerKeyEntry {
	if entry, ok := c.Keys[key]; ok {
		return &entry
	}
	return nil
}

// IsEnabled returns true if any worker keys are configured.
func (c *WorkerKeyConfig) IsEnabled() bool {
	return c != nil && len(c.Keys) > 0
}

// hashKey creates a short hash of the key for logging purposes.
func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:8])
}

// workerAuthMiddleware validates the X-Worker-Key header for worker endpoints.
// If no keys are configured, authentication is disabled (open access).
func workerAuthMiddleware(keyConfig *WorkerKeyConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := RequestIDFromContext(r.Context())

			if !keyConfig.IsEnabled() {
				ctx := context.WithValue(r.Context(), ctxKeyWorkerAuth, &WorkerAuthContext{KeyID: "none"})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			key := r.Header.Get("X-Worker-Key")
			if key == "" {
				respondError(w, reqID, http.StatusUnauthorized, &model.APIError{
					Code:    model.ErrUnauthorized,
					Message: "worker authentication required (X-Worker-Key header missing)",
				})
				return
			}

			entry := keyConfig.ValidateKey(key)
			if entry == nil {
				logger.Warn("invalid worker key", "key_hash", hashKey(key))
				respondError(w, reqID, http.StatusUnauthorized, &model.APIError{
					Code:    model.ErrUnauthorized,
					Message: "invalid worker key",
				})
				return
			}

			workerCtx := &WorkerAuthContext{
				KeyID:   hashKey(key),
				Modules: entry.Modules,
			}
			ctx := context.WithValue(r.Context(), ctxKeyWorkerAuth, workerCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CanRun reports whether the key may execute work for module.
func (c *WorkerAuthContext) CanRun(module string) bool {
	if c == nil || len(c.Modules) == 0 {
		return true
	}
	return slices.Contains(c.Modules, module)
}

// Restrict narrows filter to the modules the key may execute. It returns
// false when nothing remains.
func (c *WorkerAuthContext) Restrict(filter model.WorkFilter) (model.WorkFilter, bool) {
	if c == nil || len(c.Modules) == 0 {
		return filter, true
	}
	if len(filter.ModuleIDs) == 0 {
		filter.ModuleIDs = slices.Clone(c.Modules)
		return filter, true
	}
	var allowed []string
	for _, id := range filter.ModuleIDs {
		if c.CanRun(id) {
			allowed = append(allowed, id)
		}
	}
	filter.ModuleIDs = allowed
	return filter, len(allowed) > 0
}

// adminAuthMiddleware requires "Authorization: Bearer <token>" when token is
// set. An empty token leaves the admin routes open.
func adminAuthMiddleware(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				logger.Warn("admin request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
				respondError(w, RequestIDFromContext(r.Context()), http.StatusUnauthorized, &model.APIError{
					Code:    model.ErrUnauthorized,
					Message: "admin token required",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
