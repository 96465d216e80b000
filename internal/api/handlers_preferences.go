package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
	"github.com/RobinCoderZhao/newsdesk/internal/user"
)

func (s *Server) handleGetPreferences() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefs, err := s.users.GetPreferences(r.Context(), getUserID(r))
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to retrieve preferences")
			return
		}
		respondSuccess(w, http.StatusOK, "Preferences retrieved successfully", prefs)
	}
}

func (s *Server) handleSavePreferences() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req user.Preferences
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		errs := fieldErrors{}
		for _, src := range req.Sources {
			if strings.TrimSpace(src) == "" || len(src) > 100 {
				errs.add("preferred_sources", "Each source must be a string of at most 100 characters.")
				break
			}
		}
		missing, err := s.articles.MissingCategoryIDs(r.Context(), req.Categories)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Database error")
			return
		}
		if len(missing) > 0 {
			errs.add("preferred_categories", "The selected category does not exist.")
		}
		missing, err = s.articles.MissingAuthorIDs(r.Context(), req.Authors)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Database error")
			return
		}
		if len(missing) > 0 {
			errs.add("preferred_authors", "The selected author does not exist.")
		}
		if len(errs) > 0 {
			respondValidation(w, errs)
			return
		}

		id := getUserID(r)
		if err := s.users.SavePreferences(r.Context(), id, req); err != nil {
			s.logger.Error("save preferences failed", "user", id, "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to save preferences")
			return
		}
		prefs, err := s.users.GetPreferences(r.Context(), id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to retrieve preferences")
			return
		}
		respondSuccess(w, http.StatusOK, "Preferences updated successfully", prefs)
	}
}

// handleFeed lists articles matching any of the reader's preferences. A
// reader without preferences gets the general listing.
func (s *Server) handleFeed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f store.Filter
		errs := fieldErrors{}
		s.parsePaging(r.URL.Query(), &f, errs)
		if len(errs) > 0 {
			respondValidation(w, errs)
			return
		}

		prefs, err := s.users.GetPreferences(r.Context(), getUserID(r))
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to retrieve preferences")
			return
		}
		f.AnySources = prefs.Sources
		f.AnyCategoryIDs = prefs.Categories
		f.AnyAuthorIDs = prefs.Authors

		page, err := s.articles.ListArticles(r.Context(), f)
		if err != nil {
			s.logger.Error("feed query failed", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to retrieve feed")
			return
		}
		respondSuccess(w, http.StatusOK, "Personalized feed retrieved successfully", newArticlePage(page))
	}
}
