package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dungeonpunk/crawler-engine/internal/game"
	"github.com/dungeonpunk/crawler-engine/pkg/proto"
)

// maxFrameBytes caps one inbound frame. Oversized payloads are a framing
// violation and close the connection.
const maxFrameBytes = 16 * 1024

const writeTimeout = 5 * time.Second

// Gateway upgrades HTTP requests to the game's bidirectional message
// channel and runs one session per connection. Frames are processed
// strictly in receive order; replies are written before the next frame is
// read, so each session sees a serial stream.
type Gateway struct {
	deps     *game.Deps
	upgrader websocket.Upgrader
}

// NewGateway builds a gateway enforcing the given origin policy. An empty
// list or "*" allows every origin; otherwise the Origin header must match
// one entry exactly. Requests without an Origin header (non-browser
// clients) are always allowed.
func NewGateway(deps *game.Deps, allowedOrigins string) *Gateway {
	var allowed []string
	if allowedOrigins != "" && allowedOrigins != "*" {
		for _, o := range strings.Split(allowedOrigins, ",") {
			allowed = append(allowed, strings.TrimSpace(o))
		}
	}

	return &Gateway{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowed) == 0 {
					return true
				}
				for _, a := range allowed {
					if a == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// Serve handles one game connection until it closes.
func (g *Gateway) Serve(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade websocket: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	sess := game.New(g.deps)
	ctx := c.Request.Context()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		env, perr := parseEnvelope(data)
		if perr != nil {
			if errors.Is(perr, errEnvelopeShape) {
				// Valid JSON that is not a usable envelope is a schema
				// problem, not a framing violation; the connection stays.
				if err := writeFrame(conn, proto.ServerMsg{
					Type:    proto.TypeError,
					Payload: proto.ErrorMsg{Code: proto.CodeBadSchema, Message: perr.Error()},
				}); err != nil {
					log.Printf("WebSocket write error: %v", err)
					return
				}
				continue
			}
			// A frame that is not valid JSON is a protocol violation:
			// report it and drop the connection.
			writeFrame(conn, proto.ServerMsg{
				Type:    proto.TypeError,
				Payload: proto.ErrorMsg{Code: proto.CodeBadJSON, Message: "frame is not valid JSON"},
			})
			return
		}

		for _, msg := range sess.Handle(ctx, env) {
			if err := writeFrame(conn, msg); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}
		}
	}
}

var envelopeFields = map[string]bool{"seq": true, "type": true, "payload": true}

// errEnvelopeShape marks frames that are valid JSON but do not form an
// envelope: a non-object frame, or envelope fields of the wrong type.
var errEnvelopeShape = errors.New("frame is not a valid message envelope")

// parseEnvelope decodes one client frame. Raw syntax errors are returned
// as-is; shape violations come back as errEnvelopeShape; unknown envelope
// fields are folded into a synthetic unknown type so the session replies
// bad_schema without the gateway closing.
func parseEnvelope(data []byte) (proto.Envelope, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return proto.Envelope{}, errEnvelopeShape
		}
		return proto.Envelope{}, err
	}
	if probe == nil {
		// The frame was the JSON literal null.
		return proto.Envelope{}, errEnvelopeShape
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var env proto.Envelope
	if err := dec.Decode(&env); err != nil {
		// The object parsed but a field has the wrong type.
		return proto.Envelope{}, errEnvelopeShape
	}

	for k := range probe {
		if !envelopeFields[k] {
			env.Type = ""
			break
		}
	}
	return env, nil
}

func writeFrame(conn *websocket.Conn, msg proto.ServerMsg) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}
