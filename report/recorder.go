package report

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/photonlab/scanctl/generichttp"
)

// Recorder hands out run folders with incrementing names in yyyy-mm-dd
// subfolders of Root: Root/2024-05-01/run000001, run000002, ...
type Recorder struct {
	mu sync.Mutex

	// Root is the root path
	Root string

	// Prefix is the prefix of the run folder names
	Prefix string

	// Enabled lets consumers turn output off without dropping the recorder
	Enabled bool

	// Now is the clock, replaceable in tests
	Now func() time.Time
}

// NewRecorder returns an enabled recorder rooted at root
func NewRecorder(root string) *Recorder {
	return &Recorder{Root: root, Prefix: "run", Enabled: true, Now: time.Now}
}

func (r *Recorder) dayFolder() string {
	return filepath.Join(r.Root, r.Now().Format("2006-01-02"))
}

// next scans the day folder for the highest run number
func (r *Recorder) next(fldr string) int {
	entries, err := os.ReadDir(fldr)
	if err != nil {
		return 1
	}
	count := 0
	for _, e := range entries {
		fn := e.Name()
		if !e.IsDir() || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(fn, r.Prefix))
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	return count + 1
}

// NewRun creates and returns the folder of the next run
func (r *Recorder) NewRun() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fldr := r.dayFolder()
	if err := os.MkdirAll(fldr, 0777); err != nil {
		return "", err
	}
	dir := filepath.Join(fldr, fmt.Sprintf("%s%06d", r.Prefix, r.next(fldr)))
	return dir, os.Mkdir(dir, 0777)
}

// HTTPWrapper is an HTTP wrapper around a recorder that allows the root and
// prefix to be changed on the fly.
//
// it does not implement generichttp.HTTPer, offering an Inject method
// allowing it to be injected into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// SetRoot updates the root folder of the recorder
func (h HTTPWrapper) SetRoot(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := os.MkdirAll(str.Str, 0777); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.Root = str.Str
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// GetRoot gets the recorder's root folder and sends it back as JSON
func (h HTTPWrapper) GetRoot(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := generichttp.HumanPayload{T: types.String, String: h.Root}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// SetPrefix updates the run folder prefix of the recorder
func (h HTTPWrapper) SetPrefix(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil || str.Str == "" || strings.ContainsAny(str.Str, `/\`) {
		http.Error(w, "prefix must be a non-empty folder name", http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.Prefix = str.Str
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// GetPrefix gets the recorder's prefix and sends it back as JSON
func (h HTTPWrapper) GetPrefix(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := generichttp.HumanPayload{T: types.String, String: h.Prefix}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// GetEnabled returns the Recorder's Enabled field
func (h HTTPWrapper) GetEnabled(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := generichttp.HumanPayload{T: types.Bool, Bool: h.Enabled}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// SetEnabled sets the recorder's Enabled field
func (h HTTPWrapper) SetEnabled(w http.ResponseWriter, r *http.Request) {
	bT := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&bT)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.Enabled = bT.Bool
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// Inject adds GET and POST routes for /output/root, /output/prefix, and
// /output/enabled to the HTTPer which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/output/root"}] = h.SetRoot
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/output/root"}] = h.GetRoot
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/output/prefix"}] = h.SetPrefix
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/output/prefix"}] = h.GetPrefix
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/output/enabled"}] = h.SetEnabled
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/output/enabled"}] = h.GetEnabled
}
