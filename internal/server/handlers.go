// Package server exposes HTTP handlers, including WebSocket upgrades, the
// transcript REST surface, health checks, and the built-in console page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/Tyrowin/supportdesk/internal/chat"
)

// JSON sends a JSON response with the given status code.
func (s *Server) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug().Err(err).Msg("error writing JSON response")
	}
}

// Error sends a JSON error response with the given status code.
func (s *Server) Error(w http.ResponseWriter, status int, message string) {
	s.JSON(w, status, map[string]string{"error": message})
}

// webSocketHandler upgrades the request and hands the connection to the hub.
// In IdentifyHandshake mode the identity comes from the userId query
// parameter, and a missing or blank one means the admin console. A reserved
// id is refused before the upgrade.
func (s *Server) webSocketHandler(mode IdentifyMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var identity chat.Identity
		if mode == IdentifyHandshake {
			var err error
			identity, err = handshakeIdentity(r)
			if err != nil {
				s.Error(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
			return
		}

		client := NewClient(conn, s.hub, r.RemoteAddr, mode, clientOptionsFrom(s.cfg))
		if mode == IdentifyHandshake {
			client.identify(identity)
		}
		s.hub.Attach(client)
	}
}

// handshakeIdentity treats a missing or blank userId as the admin console.
func handshakeIdentity(r *http.Request) (chat.Identity, error) {
	raw := r.URL.Query().Get("userId")
	if strings.TrimSpace(raw) == "" {
		return chat.Admin(), nil
	}
	userID, err := chat.ParseUserID(raw)
	if err != nil {
		return chat.Identity{}, err
	}
	return chat.User(userID), nil
}

// healthHandler provides a simple health check endpoint that returns server status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "supportdesk server is running!")
}

// usersHandler lists every user that has a transcript.
func (s *Server) usersHandler(w http.ResponseWriter, r *http.Request) {
	s.JSON(w, http.StatusOK, s.transcripts.Keys(r.Context()))
}

func (s *Server) onlineUsersHandler(w http.ResponseWriter, _ *http.Request) {
	s.JSON(w, http.StatusOK, s.registry.OnlineUsers())
}

// chatHistoryHandler returns one user's transcript, oldest first. An unknown
// user has an empty transcript.
func (s *Server) chatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := chat.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		s.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	s.JSON(w, http.StatusOK, s.transcripts.All(r.Context(), userID))
}

// postChatHandler sends an admin message to a user over REST. The message is
// stored whether or not the user is connected.
func (s *Server) postChatHandler(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		s.Error(w, http.StatusBadRequest, "Text is required")
		return
	}

	delivery, err := s.router.Post(r.Context(), chi.URLParam(r, "userID"), req.Text)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrEmptyText):
		s.Error(w, http.StatusBadRequest, "Text is required")
		return
	default:
		s.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Debug().
		Str("user_id", delivery.Key).
		Int("delivered", delivery.Delivered).
		Msg("admin message posted over REST")
	s.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// consoleHandler serves an HTML page for exercising the WebSocket endpoint
// as either a user or the admin.
func (s *Server) consoleHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, consoleHTML); err != nil {
		s.logger.Debug().Err(err).Msg("error writing HTML response")
	}
}

const consoleHTML = `<!DOCTYPE html>
<html>
<head>
    <title>supportdesk console</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>supportdesk console</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="userInput" placeholder="user id (blank for admin)">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="toInput" placeholder="recipient (admin only)" disabled>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const userInput = document.getElementById('userInput');
        const toInput = document.getElementById('toInput');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color;
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function showMessage(m) {
            addLine(m.sender + ' -> ' + m.recipient + ': ' + m.text, 'green');
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            toInput.disabled = !connected || userInput.value.trim() !== '';
            userInput.disabled = connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const user = userInput.value.trim();
            let url = proto + location.host + '/ws';
            if (user !== '') {
                url += '?userId=' + encodeURIComponent(user);
            }
            ws = new WebSocket(url);

            ws.onopen = function() {
                addLine('Connected as ' + (user || 'admin'), 'gray');
                updateStatus(true);
            };

            ws.onmessage = function(event) {
                const frame = JSON.parse(event.data);
                if (frame.type === 'history') {
                    frame.messages.forEach(showMessage);
                    return;
                }
                showMessage(frame);
            };

            ws.onclose = function() {
                addLine('Connection closed', 'gray');
                updateStatus(false);
                ws = null;
            };

            ws.onerror = function() {
                addLine('Connection error', 'red');
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (!text || !ws || ws.readyState !== WebSocket.OPEN) {
                return;
            }
            const frame = { type: 'message', text: text };
            if (!toInput.disabled && toInput.value.trim() !== '') {
                frame.to = toInput.value.trim();
            }
            ws.send(JSON.stringify(frame));
            messageInput.value = '';
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
