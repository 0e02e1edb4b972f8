package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/dubsync/internal/audio"
	"github.com/snarg/dubsync/internal/metrics"
	"github.com/snarg/dubsync/internal/pipeline"
	"github.com/snarg/dubsync/internal/timesync"
)

// SyncResponse is the JSON body of a successful POST /sync.
type SyncResponse struct {
	SpeechStart float64                     `json:"speech_start"`
	NoiseFloor  float64                     `json:"noise_floor"`
	Threshold   float64                     `json:"threshold"`
	Fallback    bool                        `json:"no_speech_fallback"`
	Duration    float64                     `json:"duration"`
	Corrected   []timesync.CorrectedSegment `json:"corrected"`
	Manifest    timesync.Manifest           `json:"manifest"`
	Annotations []timesync.Annotation       `json:"annotations"`
	ElapsedMs   int64                       `json:"elapsed_ms"`
}

// SyncHandler runs the synchronization engine on uploaded audio, without
// the transcription and synthesis stages of a full job.
type SyncHandler struct {
	engine    *timesync.Engine
	fallback  bool
	maxUpload int64
}

func NewSyncHandler(engine *timesync.Engine, fallback bool, maxUploadMB int64) *SyncHandler {
	return &SyncHandler{engine: engine, fallback: fallback, maxUpload: maxUploadMB << 20}
}

// Sync accepts a multipart form with the original track ("original", WAV),
// the segments ("segments", JSON array) and one WAV clip per segment
// ("clip_<index>"). ?format=wav returns the assembled track instead of the
// manifest; ?fallback= overrides the no-speech fallback setting.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	in, err := parseSyncForm(r.MultipartForm)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid sync input", err.Error())
		return
	}

	fallback := h.fallback
	if v := r.URL.Query().Get("fallback"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteErrorDetail(w, http.StatusBadRequest, "invalid fallback", v)
			return
		}
		fallback = b
	}

	log := hlog.FromRequest(r)
	res, usedFallback, err := pipeline.Synchronize(r.Context(), h.engine, in, fallback, *log)
	if err != nil {
		switch {
		case timesync.IsFatal(err):
			WriteErrorDetail(w, http.StatusUnprocessableEntity, "synchronization failed", err.Error())
		case r.Context().Err() != nil:
			// client went away
		default:
			WriteErrorDetail(w, http.StatusBadRequest, "invalid sync input", err.Error())
		}
		return
	}
	outcome := "ok"
	if usedFallback {
		outcome = "fallback"
	}
	metrics.ObserveSync(res, outcome)

	if r.URL.Query().Get("format") == "wav" {
		data, err := audio.EncodeBytes(res.Track.Waveform)
		if err != nil {
			log.Error().Err(err).Msg("failed to encode track")
			WriteError(w, http.StatusInternalServerError, "failed to encode track")
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("X-Speech-Start", strconv.FormatFloat(res.Detection.SpeechStart, 'f', 3, 64))
		w.Header().Set("X-Annotations", strconv.Itoa(len(res.Annotations)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}

	annotations := res.Annotations
	if annotations == nil {
		annotations = []timesync.Annotation{}
	}
	WriteJSON(w, http.StatusOK, SyncResponse{
		SpeechStart: res.Detection.SpeechStart,
		NoiseFloor:  res.Detection.NoiseFloor,
		Threshold:   res.Detection.Threshold,
		Fallback:    usedFallback,
		Duration:    res.Track.Manifest.TotalDuration(),
		Corrected:   res.Corrected,
		Manifest:    res.Track.Manifest,
		Annotations: annotations,
		ElapsedMs:   res.Elapsed.Milliseconds(),
	})
}

func parseSyncForm(form *multipart.Form) (timesync.Input, error) {
	var in timesync.Input

	original, err := formWAV(form, "original")
	if err != nil {
		return in, err
	}
	in.Original = original

	raw, err := formSegments(form)
	if err != nil {
		return in, err
	}
	if err := json.Unmarshal(raw, &in.Segments); err != nil {
		return in, fmt.Errorf("segments: %w", err)
	}
	if len(in.Segments) == 0 {
		return in, errors.New("segments: at least one segment is required")
	}

	for field := range form.File {
		suffix, ok := strings.CutPrefix(field, "clip_")
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(suffix)
		if err != nil {
			return in, fmt.Errorf("%s: clip index must be an integer", field)
		}
		w, err := formWAV(form, field)
		if err != nil {
			return in, err
		}
		in.Clips = append(in.Clips, timesync.SynthesizedClip{SegmentIndex: idx, Waveform: w})
	}
	return in, nil
}

// formSegments reads the segments JSON from a plain field or an uploaded
// file of the same name.
func formSegments(form *multipart.Form) ([]byte, error) {
	if v := form.Value["segments"]; len(v) > 0 && v[0] != "" {
		return []byte(v[0]), nil
	}
	files := form.File["segments"]
	if len(files) == 0 {
		return nil, errors.New("segments: missing")
	}
	f, err := files[0].Open()
	if err != nil {
		return nil, fmt.Errorf("segments: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func formWAV(form *multipart.Form, field string) (audio.Waveform, error) {
	files := form.File[field]
	if len(files) == 0 {
		return audio.Waveform{}, fmt.Errorf("%s: missing WAV file", field)
	}
	f, err := files[0].Open()
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("%s: %w", field, err)
	}
	defer f.Close()
	w, err := audio.Decode(f)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("%s: %w", field, err)
	}
	return w, nil
}

// Routes registers sync routes on the given router.
func (h *SyncHandler) Routes(r chi.Router) {
	r.Post("/sync", h.Sync)
}
