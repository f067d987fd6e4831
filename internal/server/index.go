package server

import "net/http"

const usage = `notifyrelay

Register: message the bot on Telegram to receive your token.

Relay:
  GET  /out?user=<token>&title=<title>&message=<text>&url=<link>&notification=true
  POST /out?user=<token>   {"title": "...", "message": "...", "code": "..."}

At least one of title or message is required. Repeat user to notify
several recipients. notification=true turns on the notification sound.
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(usage))
}
