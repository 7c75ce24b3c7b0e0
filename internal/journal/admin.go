package journal

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/safepi/internal/httputil"
	"github.com/banshee-data/safepi/internal/security"
)

const defaultListLimit = 100

// AttachAdminRoutes mounts the journal's debug pages under /debug/.
func (j *Journal) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(j.path), j.db, &tailsql.DBOptions{
		Label: "SafePi journal",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the journal now", http.HandlerFunc(j.handleBackup))

	debug.HandleFunc("journal", "recent reports and sessions as JSON", func(w http.ResponseWriter, r *http.Request) {
		limit := queryLimit(r)
		reports, err := j.RecentReports(limit)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		sessions, err := j.Sessions(limit)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		written, dropped, failed := j.Stats()
		httputil.WriteJSONOK(w, map[string]interface{}{
			"session":  j.session,
			"written":  written,
			"dropped":  dropped,
			"failed":   failed,
			"reports":  reports,
			"sessions": sessions,
		})
	})

	debug.HandleFunc("journal-chart", "chart of recent report and ranging distances", j.handleChart)
	return nil
}

func queryLimit(r *http.Request) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return defaultListLimit
}

func (j *Journal) handleBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "safepi-backup-")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to create backup dir: %v", err))
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			opsf("failed to remove backup dir: %v", err)
		}
	}()

	name := security.SanitizeFilename(fmt.Sprintf("%s-backup-%d.db", strings.TrimSuffix(filepath.Base(j.path), filepath.Ext(j.path)), time.Now().Unix()))
	backupPath := filepath.Join(dir, name)
	if _, err := j.db.Exec("VACUUM INTO ?", backupPath); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to create backup: %v", err))
		return
	}
	f, err := os.Open(backupPath)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to open backup file: %v", err))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		opsf("backup stream interrupted: %v", err)
	}
}

func (j *Journal) handleChart(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	reports, err := j.RecentReports(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	ranging, err := j.RecentRanging(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	reportPts := make([]opts.LineData, 0, len(reports))
	for i := len(reports) - 1; i >= 0; i-- {
		rep := reports[i]
		if rep.SessionID != j.session {
			continue
		}
		reportPts = append(reportPts, opts.LineData{
			Name:  rep.Label,
			Value: []interface{}{rep.Seq, rep.DistanceCm},
		})
	}
	rangingPts := make([]opts.LineData, 0, len(ranging))
	for i := len(ranging) - 1; i >= 0; i-- {
		rangingPts = append(rangingPts, opts.LineData{Value: []interface{}{ranging[i].Seq, ranging[i].DistanceCm}})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "SafePi journal", Width: "1000px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Hazard distances", Subtitle: fmt.Sprintf("session=%s reports=%d ranging=%d", j.session, len(reportPts), len(rangingPts))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "cm", NameLocation: "middle", NameGap: 40}),
	)
	line.AddSeries("reported", reportPts)
	line.AddSeries("ranging", rangingPts)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
