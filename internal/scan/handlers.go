package scan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/zombor/invoice-scanner/internal/auth"
)

// maxUploadSize fits high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes {"error": message}
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleSignUp creates an account
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.auth.SignUp(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, "An account with this email already exists", http.StatusConflict)
		return
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	default:
		slog.Error("Error signing up", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":    user.ID,
		"email": user.Email,
	})
}

// handleLogin starts a session and sets the session cookie
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, "Invalid email or password", http.StatusUnauthorized)
			return
		}
		slog.Error("Error logging in", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, session)
}

// handleLogout clears the session cookie
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleSession returns the signed-in user
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, claimsFrom(r))
}

// handleUploadScan handles an invoice upload
func (s *Server) handleUploadScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		msg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			msg = "No file was selected. Please choose a file to upload."
		}
		writeError(w, msg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	// Enhancement is on unless the client opts out
	enhance := true
	if v := r.FormValue("enhance"); v != "" {
		enhance, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, "enhance must be true or false", http.StatusBadRequest)
			return
		}
	}

	claims := claimsFrom(r)
	scan, err := s.service.ProcessScan(r.Context(), claims.UserID, header.Filename, data, header.Header.Get("Content-Type"), enhance)
	if err != nil {
		slog.Error("Error processing scan", "filename", header.Filename, "error", err)
		switch {
		case errors.Is(err, ErrUnsupportedType):
			writeError(w, "Unsupported file type. Please upload an image (JPEG, PNG, GIF, BMP, WebP, HEIC) or a PDF.", http.StatusUnsupportedMediaType)
		case errors.Is(err, ErrDecode):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrRecognition):
			writeError(w, "Text recognition failed. Please try again with a clearer image.", http.StatusBadGateway)
		default:
			writeError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, scan)
}

// handleListScans returns the signed-in user's history
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.service.ListScans(r.Context(), claimsFrom(r), r.URL.Query().Get("q"))
	if err != nil {
		slog.Error("Error listing scans", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

// handleListAllScans returns every scan for the admin dashboard
func (s *Server) handleListAllScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.service.ListAllScans(r.Context(), claimsFrom(r), r.URL.Query().Get("q"))
	if err != nil {
		slog.Error("Error listing all scans", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

// handleExportXLSX downloads the admin listing as a spreadsheet
func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportXLSX(r.Context(), claimsFrom(r), r.URL.Query().Get("q"))
	if err != nil {
		slog.Error("Error exporting scans", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="scans.xlsx"`)
	w.Write(data)
}

// handleGetScan returns a single scan
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.service.GetScan(r.Context(), claimsFrom(r), r.PathValue("id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

// handleGetScanImage returns the uploaded file of a scan
func (s *Server) handleGetScanImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetScanImage(r.Context(), claimsFrom(r), r.PathValue("id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleExportFields downloads the extracted fields as JSON
func (s *Server) handleExportFields(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := s.service.ExportFields(r.Context(), claimsFrom(r), id)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="scan-%s.json"`, id))
	w.Write(data)
}

// handleDeleteScan deletes a scan
func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteScan(r.Context(), claimsFrom(r), r.PathValue("id")); err != nil {
		s.writeLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExtract re-extracts fields from text corrected by the user
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	data, err := s.service.ExtractText(req.Text).JSON()
	if err != nil {
		slog.Error("Error encoding fields", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, "Scan not found", http.StatusNotFound)
		return
	}
	slog.Error("Error loading scan", "error", err)
	writeError(w, "Internal server error", http.StatusInternalServerError)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	// Use module MIME type for ES6 modules
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}
