package frameloop

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"tailscale.com/tsweb"

	"github.com/banshee-data/safepi/internal/debugviz"
	"github.com/banshee-data/safepi/internal/httputil"
)

type statusResponse struct {
	Stats Stats   `json:"stats"`
	Last  *Result `json:"last,omitempty"`
}

// AttachAdminRoutes registers pipeline debug pages under /debug/.
func (l *Loop) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("pipeline", "frame loop counters and the latest decision", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, statusResponse{Stats: l.Stats(), Last: l.Last()})
	})

	debug.HandleFunc("disparity.png", "false colour view of the latest disparity map", func(w http.ResponseWriter, r *http.Request) {
		d := l.LastDisparity()
		if d == nil {
			httputil.Unavailable(w, "no frame yet")
			return
		}
		var buf bytes.Buffer
		if err := debugviz.WritePNG(&buf, debugviz.ColorMap(d, l.cfg.Fuser.Params().ValidDisparity)); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	})

	debug.HandleFunc("disparity-histogram.png", "histogram of valid disparities in the latest frame", func(w http.ResponseWriter, r *http.Request) {
		d := l.LastDisparity()
		if d == nil {
			httputil.Unavailable(w, "no frame yet")
			return
		}
		bins, _ := strconv.Atoi(r.URL.Query().Get("bins"))
		var buf bytes.Buffer
		err := debugviz.WriteHistogram(&buf, d, l.cfg.Fuser.Params().ValidDisparity, bins)
		if errors.Is(err, debugviz.ErrNoValidPixels) {
			httputil.NotFound(w, err.Error())
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	})
}
