package web

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/galaxyproto/caduceus/internal/auth"
	"github.com/galaxyproto/caduceus/internal/bus"
)

// handleIndex serves the chat UI to authenticated users and bounces everyone
// else to the login page.
func (c *Channel) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if _, ok := c.authenticate(r); !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	c.servePage(w, "static/index.html")
}

// handleLogin serves the form on GET and verifies credentials on POST.
// Successful logins set the session cookie and redirect to the chat UI.
func (c *Channel) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		c.servePage(w, "static/login.html")
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ip := remoteIP(r)
	if !c.loginLimiter(ip).Allow() {
		writeJSONError(w, http.StatusTooManyRequests, "Too many login attempts")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Malformed form")
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	user, err := c.users.VerifyPassword(r.Context(), username, password)
	if err != nil {
		c.logEvent("frontend_login_failed", map[string]any{
			"component": "web", "username": username, "remote": ip,
		})
		writeJSONError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := c.users.CreateToken(user)
	if err != nil {
		slog.Error("token creation failed", "username", username, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Login unavailable")
		return
	}

	c.logEvent("frontend_login_success", map[string]any{
		"component": "web", "user_id": user.ID, "username": user.Username, "remote": ip,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   c.cookieMaxAge,
		HttpOnly: true,
		Secure:   c.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleLogout clears the session cookie and redirects to the login page.
func (c *Channel) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/login", http.StatusFound)
}

// handleWebSocket upgrades the connection, authenticates the cookie, and
// pumps messages onto the bus. Unauthorized sockets get one error frame so
// the UI can show why it was dropped.
func (c *Channel) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	ws := &wsConn{conn: conn}

	claims, ok := c.authenticate(r)
	if !ok {
		c.logEvent("frontend_ws_auth_failed", map[string]any{
			"component": "web", "remote": remoteIP(r),
		})
		ws.writeJSON(frame{Type: "error", Content: "Unauthorized - please login"})
		ws.close()
		return
	}

	chatID := claims.UserID
	c.register(chatID, claims.Username, ws, remoteIP(r))
	defer c.unregister(chatID, claims.Username, ws)

	ws.writeJSON(frame{
		Type:    "system",
		Content: "Connected as " + claims.Username,
		ChatID:  chatID,
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket read failed", "chat_id", chatID, "error", err)
				c.logEvent("frontend_ws_error", map[string]any{
					"component": "web", "user_id": claims.UserID,
					"username": claims.Username, "chat_id": chatID, "error": err.Error(),
				})
			}
			return
		}

		var in frame
		if err := json.Unmarshal(data, &in); err != nil || in.Content == "" {
			continue
		}

		c.Bus().PublishInbound(bus.InboundMessage{
			Channel:  c.Name(),
			SenderID: claims.UserID,
			ChatID:   chatID,
			Content:  in.Content,
			UserID:   claims.UserID,
			Metadata: map[string]string{"source": "web", "username": claims.Username},
		})
	}
}

// register installs the socket as the user's single active connection,
// replacing (and notifying) any previous one.
func (c *Channel) register(chatID, username string, ws *wsConn, remote string) {
	c.mu.Lock()
	old := c.conns[chatID]
	c.conns[chatID] = ws
	c.mu.Unlock()

	if old != nil {
		c.logEvent("frontend_ws_replaced", map[string]any{
			"component": "web", "username": username, "chat_id": chatID, "remote": remote,
		})
		old.writeJSON(frame{Type: "system", Content: "Session replaced by new connection"})
		old.close()
	}

	c.logEvent("frontend_ws_connected", map[string]any{
		"component": "web", "username": username, "chat_id": chatID, "remote": remote,
	})
}

// unregister removes the socket only if it is still the current one; a
// replaced socket must not evict its successor.
func (c *Channel) unregister(chatID, username string, ws *wsConn) {
	c.mu.Lock()
	if c.conns[chatID] == ws {
		delete(c.conns, chatID)
	}
	c.mu.Unlock()
	ws.close()

	c.logEvent("frontend_ws_disconnected", map[string]any{
		"component": "web", "username": username, "chat_id": chatID,
	})
}

// authenticate verifies the session cookie.
func (c *Channel) authenticate(r *http.Request) (*auth.Claims, bool) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return nil, false
	}
	claims, err := c.users.VerifyToken(cookie.Value)
	if err != nil {
		return nil, false
	}
	return claims, true
}

func (c *Channel) servePage(w http.ResponseWriter, name string) {
	data, err := staticFS.ReadFile(name)
	if err != nil {
		slog.Error("embedded page missing", "name", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
