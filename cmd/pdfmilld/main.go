// Command pdfmilld serves the document operations over HTTP. Uploads are
// multipart form data; responses are complete PDF files. Nothing touches
// disk.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"time"

	"pdfmill/filters"
	"pdfmill/observability"
	"pdfmill/transform"
)

// maxUploadBytes caps each uploaded file.
const maxUploadBytes = 10 << 20

type options struct {
	addr    string
	verbose bool
}

func main() {
	opts := parseFlags()
	level := observability.LevelInfo
	if opts.verbose {
		level = observability.LevelDebug
	}
	log := observability.NewTextLogger(os.Stderr, level)

	srv := &server{
		pipeline: transform.NewPipeline(transform.Config{
			Log:    log,
			Limits: filters.Limits{MaxDecodedSize: 256 << 20},
		}),
		log: log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/merge", srv.handleMerge)
	mux.HandleFunc("/extract-first", srv.handleExtractFirst)
	mux.HandleFunc("/rotate", srv.handleRotate)
	mux.HandleFunc("/images-to-pdf", srv.handleImages)

	httpSrv := &http.Server{
		Addr:              opts.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("listening", observability.String("addr", opts.addr))
	if err := httpSrv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "pdfmilld: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.addr, "addr", ":8080", "Listen address")
	flag.BoolVar(&opts.verbose, "v", false, "Debug logging")
	flag.Parse()
	return opts
}

type server struct {
	pipeline *transform.Pipeline
	log      observability.Logger
}

func (s *server) handleMerge(w http.ResponseWriter, r *http.Request) {
	inputs, ok := s.readFiles(w, r, "pdfs")
	if !ok {
		return
	}
	out, err := s.pipeline.MergeFiles(r.Context(), inputs)
	if err != nil {
		s.fail(w, err)
		return
	}
	servePDF(w, "merged.pdf", out)
}

func (s *server) handleExtractFirst(w http.ResponseWriter, r *http.Request) {
	inputs, ok := s.readFiles(w, r, "pdf")
	if !ok {
		return
	}
	out, err := s.pipeline.ExtractFirstPage(r.Context(), inputs[0])
	if err != nil {
		s.fail(w, err)
		return
	}
	servePDF(w, "first-page.pdf", out)
}

func (s *server) handleRotate(w http.ResponseWriter, r *http.Request) {
	inputs, ok := s.readFiles(w, r, "pdf")
	if !ok {
		return
	}
	delta := 90
	if v := r.FormValue("delta"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "delta must be an integer number of degrees", http.StatusBadRequest)
			return
		}
		delta = parsed
	}
	out, err := s.pipeline.RotateAllPages(r.Context(), inputs[0], delta)
	if err != nil {
		s.fail(w, err)
		return
	}
	servePDF(w, "rotated.pdf", out)
}

func (s *server) handleImages(w http.ResponseWriter, r *http.Request) {
	inputs, ok := s.readFiles(w, r, "images")
	if !ok {
		return
	}
	out, err := s.pipeline.ImageFiles(r.Context(), inputs)
	if err != nil {
		s.fail(w, err)
		return
	}
	servePDF(w, "images.pdf", out)
}

// readFiles collects every upload under field from a multipart POST. On
// failure it writes the response itself and returns ok=false.
func (s *server) readFiles(w http.ResponseWriter, r *http.Request, field string) ([][]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return nil, false
	}
	reader, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "multipart form data required", http.StatusBadRequest)
		return nil, false
	}
	var files [][]byte
	var fields map[string]string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, "malformed multipart body", http.StatusBadRequest)
			return nil, false
		}
		if part.FileName() == "" {
			// ordinary form value, keep it for FormValue
			val, err := io.ReadAll(io.LimitReader(part, 4096))
			if err == nil {
				if fields == nil {
					fields = make(map[string]string)
				}
				fields[part.FormName()] = string(val)
			}
			continue
		}
		if part.FormName() != field {
			io.Copy(io.Discard, part)
			continue
		}
		data, ok := readUpload(w, part)
		if !ok {
			return nil, false
		}
		files = append(files, data)
	}
	if len(files) == 0 {
		http.Error(w, fmt.Sprintf("no %q upload in request", field), http.StatusBadRequest)
		return nil, false
	}
	// Re-expose non-file fields through the request form.
	if fields != nil {
		if r.Form == nil {
			r.Form = make(map[string][]string, len(fields))
		}
		for k, v := range fields {
			r.Form[k] = append(r.Form[k], v)
		}
	}
	return files, true
}

func readUpload(w http.ResponseWriter, part *multipart.Part) ([]byte, bool) {
	data, err := io.ReadAll(io.LimitReader(part, maxUploadBytes+1))
	if err != nil {
		http.Error(w, "error reading upload", http.StatusBadRequest)
		return nil, false
	}
	if len(data) > maxUploadBytes {
		http.Error(w, "upload exceeds 10 MiB limit", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	if len(data) == 0 {
		http.Error(w, "empty upload", http.StatusBadRequest)
		return nil, false
	}
	return data, true
}

// fail maps pipeline errors to status codes: bad requests for problems
// the client can correct, 500 for everything else.
func (s *server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, transform.ErrInsufficientInput),
		errors.Is(err, transform.ErrIndexOutOfRange),
		errors.Is(err, transform.ErrNoValidImages):
		status = http.StatusBadRequest
	}
	s.log.Error("request failed", observability.Error("cause", err), observability.Int("status", status))
	http.Error(w, err.Error(), status)
}

func servePDF(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}
