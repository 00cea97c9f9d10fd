package kling_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"go.uber.org/zap/zaptest"

	"github.com/temirov/autoreel/internal/failure"
	"github.com/temirov/autoreel/internal/kling"
	"github.com/temirov/autoreel/internal/media"
	"github.com/temirov/autoreel/internal/pipeline"
)

var fixedNow = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func verifyToken(t *testing.T, header string) {
	tokenString := strings.TrimPrefix(header, "Bearer ")
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			t.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte("secret-key"), nil
	})
	if err != nil && !strings.Contains(err.Error(), "expired") {
		t.Errorf("parse token: %v", err)
		return
	}
	claims := token.Claims.(jwt.MapClaims)
	if claims["iss"] != "access-key" {
		t.Errorf("unexpected issuer %v", claims["iss"])
	}
	if claims["exp"] != float64(fixedNow.Unix()+1800) || claims["nbf"] != float64(fixedNow.Unix()-5) {
		t.Errorf("unexpected validity window %v", claims)
	}
	if token.Header["typ"] != "JWT" {
		t.Errorf("unexpected typ %v", token.Header["typ"])
	}
}

func newProvider(t *testing.T, baseURL string) kling.Provider {
	return kling.Provider{
		BaseURL:      baseURL,
		AccessKey:    "access-key",
		SecretKey:    "secret-key",
		PollInterval: time.Millisecond,
		Logger:       zaptest.NewLogger(t),
		Now:          func() time.Time { return fixedNow },
	}
}

func TestGenerateSubmitsAndPolls(t *testing.T) {
	var polls atomic.Int32
	var submitted map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		verifyToken(t, request.Header.Get("Authorization"))
		switch {
		case request.Method == http.MethodPost && request.URL.Path == "/v1/videos/image2video":
			_ = json.NewDecoder(request.Body).Decode(&submitted)
			_, _ = writer.Write([]byte(`{"code":0,"message":"SUCCEED","data":{"task_id":"task-9","task_status":"submitted"}}`))
		case request.Method == http.MethodGet && request.URL.Path == "/v1/videos/image2video/task-9":
			if polls.Add(1) < 3 {
				_, _ = writer.Write([]byte(`{"code":0,"data":{"task_id":"task-9","task_status":"processing"}}`))
				return
			}
			_, _ = writer.Write([]byte(`{"code":0,"data":{"task_id":"task-9","task_status":"succeed","task_result":{"videos":[{"id":"v1","url":"https://kling.test/v1.mp4","duration":"5.1"}]}}}`))
		default:
			t.Errorf("unexpected request %s %s", request.Method, request.URL.Path)
		}
	}))
	defer server.Close()

	var statuses []string
	request := pipeline.VideoRequest{
		Images:   []media.PublicURL{"https://img.test/a.png"},
		Prompt:   "dolly in",
		Observer: func(event pipeline.ProgressEvent) { statuses = append(statuses, event.Message) },
	}
	result, err := newProvider(t, server.URL).Generate(context.Background(), request)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.URL != "https://kling.test/v1.mp4" || result.Duration != 5.1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if submitted["model_name"] != kling.DefaultModel || submitted["image"] != "https://img.test/a.png" || submitted["duration"] != "5" || submitted["mode"] != "std" {
		t.Fatalf("unexpected submission %v", submitted)
	}
	if strings.Join(statuses, ",") != "task processing,task succeed" {
		t.Fatalf("unexpected progress %v", statuses)
	}
}

func TestGenerateFailures(t *testing.T) {
	testCases := []struct {
		name         string
		status       int
		submitBody   string
		taskBody     string
		expectedKind failure.Kind
	}{
		{
			name:         "unauthorized",
			status:       http.StatusUnauthorized,
			submitBody:   `{"code":1000,"message":"auth failed"}`,
			expectedKind: failure.KindCredential,
		},
		{
			name:         "rate limited business code",
			status:       http.StatusOK,
			submitBody:   `{"code":1302,"message":"request too fast"}`,
			expectedKind: failure.KindQuotaExceeded,
		},
		{
			name:         "server overload",
			status:       http.StatusServiceUnavailable,
			submitBody:   `{"code":5001,"message":"service unavailable"}`,
			expectedKind: failure.KindTransient,
		},
		{
			name:         "task failed",
			status:       http.StatusOK,
			submitBody:   `{"code":0,"data":{"task_id":"t"}}`,
			taskBody:     `{"code":0,"data":{"task_id":"t","task_status":"failed","task_status_msg":"image rejected"}}`,
			expectedKind: failure.KindProvider,
		},
		{
			name:         "task succeeded without video",
			status:       http.StatusOK,
			submitBody:   `{"code":0,"data":{"task_id":"t"}}`,
			taskBody:     `{"code":0,"data":{"task_id":"t","task_status":"succeed","task_result":{"videos":[]}}}`,
			expectedKind: failure.KindNoUsableOutput,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(testingT *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				if request.Method == http.MethodPost {
					writer.WriteHeader(testCase.status)
					_, _ = writer.Write([]byte(testCase.submitBody))
					return
				}
				_, _ = writer.Write([]byte(testCase.taskBody))
			}))
			defer server.Close()

			_, err := newProvider(testingT, server.URL).Generate(context.Background(), pipeline.VideoRequest{Images: []media.PublicURL{"https://img.test/a.png"}})
			if failure.Classify(err) != testCase.expectedKind {
				testingT.Fatalf("expected %s, got %v", testCase.expectedKind, err)
			}
		})
	}
}

func TestGenerateWithoutKeysMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	provider := kling.Provider{BaseURL: server.URL, AccessKey: "only-access"}
	_, err := provider.Generate(context.Background(), pipeline.VideoRequest{Images: []media.PublicURL{"https://img.test/a.png"}})
	if failure.Classify(err) != failure.KindCredential {
		t.Fatalf("expected credential error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no network call")
	}
}
