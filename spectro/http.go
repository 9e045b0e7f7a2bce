package spectro

import (
	"net/http"

	"github.com/photonlab/scanctl/generichttp"
)

// HTTPWrapper wraps a Spectrometer with HTTP
type HTTPWrapper struct {
	*Spectrometer

	RouteTable generichttp.RouteTable
}

// SpectrumT is the JSON form of a native spectrum
type SpectrumT struct {
	Wavelength []float64 `json:"wavelength"`
	Intensity  []float64 `json:"intensity"`
	Exposure   int       `json:"exposure"`
	Gain       int       `json:"gain"`
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(s *Spectrometer) HTTPWrapper {
	w := HTTPWrapper{Spectrometer: s}
	w.RouteTable = generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/exposure"}:  generichttp.GetInt(func() (int, error) { return s.Exposure(), nil }),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/exposure"}: generichttp.SetInt(s.SetExposure),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/gain"}:      generichttp.GetInt(func() (int, error) { return s.Gain(), nil }),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/gain"}:     generichttp.SetInt(s.SetGain),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/spectrum"}:  w.HTTPSpectrum,
	}
	return w
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// HTTPSpectrum captures one frame and returns the native spectrum
func (h HTTPWrapper) HTTPSpectrum(w http.ResponseWriter, r *http.Request) {
	spec, err := h.Capture()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	generichttp.RespondJSON(w, SpectrumT{
		Wavelength: h.WavelengthAxis(),
		Intensity:  spec,
		Exposure:   h.Exposure(),
		Gain:       h.Gain(),
	})
}
