package auth

import (
	"fmt"
	"net/http"
	"sync"
)

// callbackResult is what the redirect carried.
type callbackResult struct {
	code    string
	state   string
	errCode string
	errDesc string
}

// callbackHandler accepts exactly one redirect and answers every request
// with a static page.
type callbackHandler struct {
	path   string
	result chan callbackResult
	once   sync.Once
}

func newCallbackHandler(path string) *callbackHandler {
	return &callbackHandler{
		path:   path,
		result: make(chan callbackResult, 1),
	}
}

func (h *callbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != h.path {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	h.once.Do(func() {
		h.result <- callbackResult{
			code:    q.Get("code"),
			state:   q.Get("state"),
			errCode: q.Get("error"),
			errDesc: q.Get("error_description"),
		}
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, confirmationPage)
}

const confirmationPage = `<!DOCTYPE html>
<html>
<head>
    <title>tapedeck - Authorization</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background: linear-gradient(135deg, #1DB954 0%, #191414 100%);
            color: white;
        }
        .container {
            text-align: center;
            padding: 40px;
            background: rgba(0, 0, 0, 0.5);
            border-radius: 16px;
        }
        h1 { margin-bottom: 20px; }
        p { opacity: 0.8; }
    </style>
</head>
<body>
    <div class="container">
        <h1>tapedeck received the authorization response</h1>
        <p>You can close this window and return to the player.</p>
    </div>
</body>
</html>
`
