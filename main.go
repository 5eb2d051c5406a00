package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/KuyaKoya/flutter-floorplan-ensemble/engine"
	"github.com/KuyaKoya/flutter-floorplan-ensemble/models"
	"github.com/KuyaKoya/flutter-floorplan-ensemble/pipeline"
)

type AppState struct {
	Config ServerConfig
	Pool   *EngineSetPool
}

type DetectionJSON struct {
	Left       float32     `json:"left"`
	Top        float32     `json:"top"`
	Width      float32     `json:"width"`
	Height     float32     `json:"height"`
	Confidence float32     `json:"confidence"`
	ClassID    int         `json:"class_id"`
	Label      string      `json:"label"`
	Mask       [][]float32 `json:"mask,omitempty"`
}

type DetectResponse struct {
	RequestID  string          `json:"request_id"`
	RoomCount  int             `json:"room_count"`
	Detections []DetectionJSON `json:"detections"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func main() {
	cfg := loadConfig()

	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := engine.Initialize(cfg.OrtLibrary); err != nil {
		logrus.WithError(err).Fatal("failed to initialize ONNX runtime")
	}
	defer engine.Shutdown()

	manifest, err := engine.LoadManifest(cfg.ManifestPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load model manifest")
	}

	pool, err := NewEngineSetPool(manifest, cfg.TileSize, cfg.PoolSize)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create engine pool")
	}
	defer pool.Destroy()

	state := &AppState{Config: cfg, Pool: pool}

	r := mux.NewRouter()
	r.HandleFunc("/detect", handleDetect(state)).Methods("POST")
	r.HandleFunc("/healthz", handleHealthz).Methods("GET")
	r.HandleFunc("/metrics", state.handleMetrics).Methods("GET")

	srv := &http.Server{
		Handler:      r,
		Addr:         cfg.Addr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	logrus.WithField("addr", srv.Addr).Info("starting server")
	logrus.Fatal(srv.ListenAndServe())
}

func handleDetect(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		requestID := uuid.New().String()
		log := logrus.WithField("request_id", requestID)

		ctx := r.Context()
		imgBytes, err := readImageBytes(r)
		if err != nil {
			sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}

		decodeStart := time.Now()
		img, err := decodeImage(imgBytes)
		imageDecode := time.Since(decodeStart)
		if err != nil {
			sendErrorResponse(w, "invalid_image", "Failed to decode image", http.StatusBadRequest)
			return
		}

		set, err := state.Pool.Acquire(ctx)
		if err != nil {
			sendErrorResponse(w, "engine_unavailable", err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer state.Pool.Release(set)

		p := pipeline.New(pipeline.Config{
			TileSize:            state.Config.TileSize,
			Overlap:             state.Config.Overlap,
			ConfidenceThreshold: state.Config.ConfidenceThreshold,
			GroupingThreshold:   state.Config.GroupingThreshold,
			NMSThreshold:        state.Config.NMSThreshold,
			Streamlined:         state.Config.Streamlined,
			Workers:             state.Config.Workers,
		}, set.Models())

		detections, err := p.Run(ctx, img, func(done, total int) {
			log.WithFields(logrus.Fields{"done": done, "total": total}).Debug("tile processed")
		})
		if err != nil {
			writePipelineError(w, err)
			return
		}

		timings := p.Timings()
		timings.RequestID = requestID
		timings.ImageDecode = imageDecode
		timings.Total = time.Since(startTotal)
		logTimings(log, timings)

		includeMasks := r.URL.Query().Get("include_masks") == "true"
		resp := DetectResponse{
			RequestID:  requestID,
			RoomCount:  len(detections),
			Detections: make([]DetectionJSON, 0, len(detections)),
		}
		for _, d := range detections {
			dj := DetectionJSON{
				Left:       d.Left,
				Top:        d.Top,
				Width:      d.Width,
				Height:     d.Height,
				Confidence: d.Confidence,
				ClassID:    d.ClassID,
				Label:      d.Label,
			}
			if includeMasks {
				dj.Mask = d.Mask
			}
			resp.Detections = append(resp.Detections, dj)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// writePipelineError keeps the three failure classes distinct for
// clients: bad configuration, canceled request, or a run where nothing
// could execute at all. A run that found nothing is a 200 with an empty
// list, never an error.
func writePipelineError(w http.ResponseWriter, err error) {
	var tileErr *models.TileGenerationError
	switch {
	case errors.As(err, &tileErr):
		sendErrorResponse(w, "invalid_configuration", tileErr.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrAllTilesFailed):
		sendErrorResponse(w, "all_tiles_failed", err.Error(), http.StatusBadGateway)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		sendErrorResponse(w, "canceled", err.Error(), http.StatusRequestTimeout)
	default:
		sendErrorResponse(w, "processing_error", err.Error(), http.StatusInternalServerError)
	}
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	inUse, acquired, released, failures := s.Pool.GetMetrics()
	response := map[string]interface{}{
		"pool_size":        s.Pool.size,
		"sets_in_use":      inUse,
		"total_acquired":   acquired,
		"total_released":   released,
		"acquire_failures": failures,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func readImageBytes(r *http.Request) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")
	switch {
	case contentType == "application/json":
		return handleJSONRequest(r)
	case contentType == "multipart/form-data":
		return handleMultipartRequest(r)
	default:
		return handleRawRequest(r)
	}
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

func logTimings(log *logrus.Entry, t models.RunTimings) {
	log.WithFields(logrus.Fields{
		"image_decode": t.ImageDecode,
		"tiling":       t.Tiling,
		"inference":    t.Inference,
		"fusion":       t.Fusion,
		"total":        t.Total,
	}).Debug("processing times")
}
