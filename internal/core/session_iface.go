package core

// SessionID identifies one shell mount (one websocket connection).
type SessionID string

// ClientToken identifies a browser across mounts (cookie).
type ClientToken string
