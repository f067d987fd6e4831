package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"zckyachmd/notifyrelay/internal/dispatch"
)

const maxBodyBytes = 1 << 20

var (
	errMissingText = errors.New("missing message or title")
	errMissingUser = errors.New("missing user")
	errNoRecipient = errors.New("no matching users")
)

// stringList accepts either "a" or ["a", "b"].
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("user must be a string or a list of strings")
	}
	*l = many
	return nil
}

// looseString accepts a JSON string, bool or number as text.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	*s = looseString(strings.Trim(string(b), `"`))
	return nil
}

type outBody struct {
	Title        *string      `json:"title"`
	Message      *string      `json:"message"`
	URL          *string      `json:"url"`
	Code         *string      `json:"code"`
	Notification *looseString `json:"notification"`
	User         stringList   `json:"user"`
}

type outRequest struct {
	fields dispatch.Fields
	users  []string
}

func (s *Server) handleOut(w http.ResponseWriter, r *http.Request) {
	req, err := parseOut(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payload := dispatch.BuildMessage(req.fields, s.silentByDefault)
	res, err := s.relay.Dispatch(r.Context(), payload, req.users)
	log := s.logger.With().
		Int("requested", res.Requested).
		Int("resolved", res.Resolved).
		Int("delivered", res.Delivered).
		Int("throttled", res.Throttled).
		Int("failed", res.Failed).
		Logger()
	if err != nil {
		log.Warn().Err(err).Msg("relay failed")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if res.Resolved == 0 {
		log.Info().Msg("relay had no matching users")
		http.Error(w, errNoRecipient.Error(), http.StatusBadRequest)
		return
	}
	log.Info().Msg("relay done")
	w.WriteHeader(http.StatusNoContent)
}

func parseOut(r *http.Request) (outRequest, error) {
	q := r.URL.Query()
	var req outRequest
	req.fields = dispatch.Fields{
		Title: q.Get("title"),
		Body:  q.Get("message"),
		URL:   q.Get("url"),
	}
	if q.Has("notification") {
		v := q.Get("notification")
		req.fields.Notification = &v
	}
	req.users = queryList(q, "user")

	if r.Method == http.MethodPost {
		if err := mergeBody(r, &req); err != nil {
			return outRequest{}, err
		}
	}

	if req.fields.Title == "" && req.fields.Body == "" {
		return outRequest{}, errMissingText
	}
	if len(req.users) == 0 {
		return outRequest{}, errMissingUser
	}
	return req, nil
}

func mergeBody(r *http.Request, req *outRequest) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		var body outBody
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("invalid json body: %w", err)
		}
		setIf(&req.fields.Title, body.Title)
		setIf(&req.fields.Body, body.Message)
		setIf(&req.fields.URL, body.URL)
		setIf(&req.fields.Code, body.Code)
		if body.Notification != nil {
			v := string(*body.Notification)
			req.fields.Notification = &v
		}
		if users := queryList(map[string][]string{"user": body.User}, "user"); len(users) > 0 {
			req.users = users
		}
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return fmt.Errorf("invalid form body: %w", err)
		}
		f := r.PostForm
		for key, dst := range map[string]*string{
			"title":   &req.fields.Title,
			"message": &req.fields.Body,
			"url":     &req.fields.URL,
			"code":    &req.fields.Code,
		} {
			if f.Has(key) {
				*dst = f.Get(key)
			}
		}
		if f.Has("notification") {
			v := f.Get("notification")
			req.fields.Notification = &v
		}
		if users := queryList(f, "user"); len(users) > 0 {
			req.users = users
		}
	}
	return nil
}

func setIf(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func queryList(v map[string][]string, key string) []string {
	var out []string
	for _, k := range []string{key, key + "[]"} {
		for _, s := range v[k] {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
