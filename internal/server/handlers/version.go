package handlers

import (
	"net/http"
	"sync"

	"github.com/fulmenhq/gofulmen/crucible"
)

// VersionResponse is the body of /version.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	Gofulmen  string `json:"gofulmen,omitempty"`
	Crucible  string `json:"crucible,omitempty"`
}

var (
	versionMu   sync.RWMutex
	versionInfo = VersionResponse{Version: "dev"}
)

// SetVersionInfo sets the build metadata reported by /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionMu.Lock()
	defer versionMu.Unlock()
	versionInfo = VersionResponse{Version: version, Commit: commit, BuildDate: buildDate}
}

func VersionHandler(w http.ResponseWriter, _ *http.Request) {
	versionMu.RLock()
	resp := versionInfo
	versionMu.RUnlock()
	v := crucible.GetVersion()
	resp.Gofulmen = v.Gofulmen
	resp.Crucible = v.Crucible
	writeJSON(w, http.StatusOK, resp)
}
