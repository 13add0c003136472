package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/rotisserie/eris"
)

// debugServer serves read-only views of the engine. Handlers only read snapshot values and atomics,
// so they never interfere with the tick loop.
type debugServer struct {
	engine *Engine
	server *http.Server
	schema []byte // JSON schema of EntityRecord
}

type stageResponse struct {
	Stage      string `json:"stage"`
	Lifecycle  string `json:"lifecycle"`
	TickHeight uint64 `json:"tick_height"`
}

type regionResponse struct {
	Coord    [3]int32 `json:"coord"`
	Entities int      `json:"entities"`
	Chunks   int      `json:"chunks"`
	Bodies   int      `json:"bodies"`
}

func newDebugServer(e *Engine) (*debugServer, error) {
	reflector := &jsonschema.Reflector{
		Anonymous:      true, // Don't add $id based on package path
		ExpandedStruct: true, // Inline the struct fields directly
	}
	schema, err := json.Marshal(reflector.Reflect(&EntityRecord{}))
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal json schema")
	}
	return &debugServer{engine: e, schema: schema}, nil
}

func (d *debugServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /debug/stage", d.handleStage)
	mux.HandleFunc("GET /debug/regions", d.handleRegions)
	mux.HandleFunc("GET /debug/schema", d.handleSchema)
	return mux
}

func (d *debugServer) start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return eris.Wrapf(err, "failed to listen on %s", addr)
	}
	d.server = &http.Server{
		Handler:           d.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger := d.engine.tel.GetLogger("debug")
	go func() {
		if err := d.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("debug server stopped")
		}
	}()
	logger.Info().Str("addr", listener.Addr().String()).Msg("debug server listening")
	return nil
}

func (d *debugServer) shutdown(ctx context.Context) error {
	if d.server == nil {
		return nil
	}
	return eris.Wrap(d.server.Shutdown(ctx), "failed to shut down debug server")
}

func (d *debugServer) handleStage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, stageResponse{
		Stage:      d.engine.stages.Current().String(),
		Lifecycle:  d.engine.lifecycle.Current().String(),
		TickHeight: d.engine.TickHeight(),
	})
}

func (d *debugServer) handleRegions(w http.ResponseWriter, _ *http.Request) {
	regions := d.engine.world.Regions()
	out := make([]regionResponse, 0, len(regions))
	for _, r := range regions {
		c := r.Coord()
		out = append(out, regionResponse{
			Coord:    [3]int32{c.X, c.Y, c.Z},
			Entities: r.EntityManager().Len(),
			Chunks:   len(r.Chunks()),
			Bodies:   len(r.Bodies()),
		})
	}
	writeJSON(w, out)
}

func (d *debugServer) handleSchema(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(d.schema)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
