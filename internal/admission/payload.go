package admission

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// rawField names the payload when the body is not a JSON object or form.
const rawField = "body"

// payload is what the payload stage inspects.
type payload struct {
	fields    map[string]any
	truncated bool
	// parseErr is set when the body claimed a structured type but could not
	// be decoded. Evaluation continues with whatever was parsed.
	parseErr error
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// readPayload buffers at most limit bytes of r.Body and replaces the body so
// the handler still reads the full, unmodified stream.
func readPayload(r *http.Request, limit int64) (payload, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return payload{}, nil
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	// every consumed byte goes back in front of the rest, on error too
	r.Body = restoredBody{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
	if err != nil {
		return payload{}, fmt.Errorf("read body: %w", err)
	}

	inspected := buf
	truncated := int64(len(buf)) > limit
	if truncated {
		inspected = buf[:limit]
	}
	p := parsePayload(r.Header.Get("Content-Type"), inspected, truncated)
	p.truncated = truncated
	return p, nil
}

type restoredBody struct {
	io.Reader
	io.Closer
}

func parsePayload(contentType string, buf []byte, truncated bool) payload {
	if len(bytes.TrimSpace(buf)) == 0 {
		return payload{}
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		if truncated {
			return payload{fields: map[string]any{rawField: jsonStrings(buf)}}
		}
		return parseJSON(buf)
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(buf))
		fields := make(map[string]any, len(values))
		for k, v := range values {
			fields[k] = v
		}
		if err != nil && !truncated {
			return payload{fields: fields, parseErr: fmt.Errorf("malformed form body: %w", err)}
		}
		return payload{fields: fields}
	case mediaType == "multipart/form-data":
		return parseMultipart(buf, params["boundary"], truncated)
	case strings.HasPrefix(mediaType, "text/"):
		return payload{fields: map[string]any{rawField: string(buf)}}
	default:
		// binary or unlabelled bodies are left to the handler
		return payload{}
	}
}

func parseJSON(buf []byte) payload {
	var v any
	if err := json.Unmarshal(buf, &v); err != nil {
		return payload{parseErr: fmt.Errorf("malformed JSON body: %w", err)}
	}
	if obj, ok := v.(map[string]any); ok {
		return payload{fields: obj}
	}
	return payload{fields: map[string]any{rawField: v}}
}

// jsonStrings collects the string tokens of a document cut at the
// inspection limit, up to the point where it stops being valid.
func jsonStrings(buf []byte) []any {
	var out []any
	dec := json.NewDecoder(bytes.NewReader(buf))
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		if s, ok := tok.(string); ok {
			out = append(out, s)
		}
	}
}

// parseMultipart collects the non-file parts of a multipart body. File
// contents are left to the upload handler's own validation.
func parseMultipart(buf []byte, boundary string, truncated bool) payload {
	if boundary == "" {
		return payload{parseErr: errors.New("multipart body without boundary")}
	}

	fields := make(map[string]any)
	mr := multipart.NewReader(bytes.NewReader(buf), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if truncated {
				break
			}
			return payload{fields: fields, parseErr: fmt.Errorf("malformed multipart body: %w", err)}
		}
		name := part.FormName()
		if part.FileName() != "" {
			fields[name+".filename"] = part.FileName()
			part.Close()
			continue
		}
		value, err := io.ReadAll(part)
		part.Close()
		if err != nil && !truncated {
			return payload{fields: fields, parseErr: fmt.Errorf("malformed multipart body: %w", err)}
		}
		fields[name] = string(value)
	}
	return payload{fields: fields}
}
