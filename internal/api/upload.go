package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LyricSync/internal/model"
)

// errRejected marks an upload refused before anything was stored.
var errRejected = errors.New("upload rejected")

// handleUpload is the audio upload entry point. The project moves to
// uploading while the object is stored, then back to idle with audio_url set
// and the previous recording's vocals, transcript and video dropped, or to
// error when storage fails.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, id, owner string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	project, err := s.deps.Projects.Get(ctx, id, owner)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if project.Status.IsRunning() {
		s.respondError(w, r, model.ErrLeaseHeld)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer part.Close()
	tmp, err := s.persistTemp(part)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer os.Remove(tmp.path)
	defer tmp.f.Close()
	if !s.allowedType(tmp.contentType) {
		http.Error(w, fmt.Sprintf("%v: unsupported audio type %q", errRejected, tmp.contentType), http.StatusUnsupportedMediaType)
		return
	}

	// An edit of the old transcript must not land on the new recording.
	s.deps.Autosave.Cancel(id)
	if err := s.deps.Projects.Update(ctx, id, owner, model.ProjectUpdate{
		Status: model.StatusPtr(model.StatusUploading),
	}); err != nil {
		s.respondError(w, r, err)
		return
	}
	objectKey := fmt.Sprintf("%s/%s/%s%s", owner, id, uuid.NewString(), audioExt(tmp))
	audioURL, err := s.uploadToStorage(ctx, objectKey, tmp)
	if err != nil {
		s.requestLog(r).WithError(err).WithField("project_id", id).Error("upload to storage failed")
		msg := "upload failed: " + err.Error()
		if uerr := s.deps.Projects.Update(context.WithoutCancel(ctx), id, owner, model.ProjectUpdate{
			Status:       model.StatusPtr(model.StatusError),
			ErrorMessage: &msg,
		}); uerr != nil {
			s.requestLog(r).WithError(uerr).Error("could not record upload failure")
		}
		http.Error(w, "failed to store file", http.StatusBadGateway)
		return
	}
	if err := s.deps.Projects.Update(ctx, id, owner, model.ProjectUpdate{
		Status:         model.StatusPtr(model.StatusIdle),
		AudioURL:       &audioURL,
		ClearError:     true,
		ClearNotes:     true,
		ResetArtifacts: true,
	}); err != nil {
		s.respondError(w, r, err)
		return
	}
	project, err = s.deps.Projects.Get(ctx, id, owner)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.requestLog(r).WithFields(logrus.Fields{
		"project_id": id,
		"bytes":      tmp.size,
		"type":       tmp.contentType,
	}).Info("audio uploaded")
	respondJSON(w, http.StatusOK, project)
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "lyricsync-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	fail := func(err error) (*tempUpload, error) {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, err
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				return fail(fmt.Errorf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize))
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				return fail(fmt.Errorf("write temp file: %w", err))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fail(fmt.Errorf("read file: %w", readErr))
		}
	}
	if written == 0 {
		return fail(errors.New("empty file"))
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("rewind temp file: %w", err))
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: detectAudioType(sniff, part.Header.Get("Content-Type")),
		filename:    filepath.Base(filename),
	}, nil
}

// detectAudioType sniffs the content. Bare MP3 frames without an ID3 tag
// sniff as octet-stream, so the declared type is trusted in that case.
func detectAudioType(sniff []byte, declared string) string {
	detected := http.DetectContentType(sniff)
	if detected != "application/octet-stream" {
		return detected
	}
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "" {
		return mediaType
	}
	return detected
}

func (s *Server) allowedType(contentType string) bool {
	for _, allowed := range s.cfg.AllowedTypes {
		if strings.EqualFold(allowed, contentType) {
			return true
		}
	}
	return false
}

func (s *Server) uploadToStorage(ctx context.Context, objectKey string, tmp *tempUpload) (string, error) {
	if _, err := tmp.f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return s.deps.Audio.Put(ctx, objectKey, tmp.f, tmp.size, tmp.contentType)
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

// audioExt keeps the uploaded extension so providers that infer the codec
// from the URL still can.
func audioExt(tmp *tempUpload) string {
	if ext := strings.ToLower(path.Ext(tmp.filename)); len(ext) > 1 && len(ext) <= 6 && isAlnum(ext[1:]) {
		return ext
	}
	if exts, err := mime.ExtensionsByType(tmp.contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func isAlnum(s string) bool {
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
