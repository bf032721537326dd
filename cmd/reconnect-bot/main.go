// reconnect-bot is a demo client for the session server: it joins a
// room, attaches over websocket, answers pings, and when the connection
// drops it reconnects with exponential backoff, resuming from the last
// acked sequence so the recovery payload only carries what it missed.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type attachMsg struct {
	Type         string `json:"type"`
	Token        string `json:"token"`
	RoomID       string `json:"room_id"`
	LastSequence uint64 `json:"last_sequence,omitempty"`
}

type wireMsg struct {
	Type           string `json:"type"`
	Ok             bool   `json:"ok"`
	Error          string `json:"error"`
	Code           string `json:"code"`
	TS             int64  `json:"ts"`
	PlayerID       string `json:"player_id"`
	Status         string `json:"status"`
	SequenceNumber uint64 `json:"sequence_number"`
	WinnerID       string `json:"winner_id"`
	MissedActions  []struct {
		Sequence uint64 `json:"sequence"`
	} `json:"missed_actions"`
}

const maxAttempts = 5

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	baseURL := getenv("SERVER_URL", "http://localhost:8080")
	wsURL := getenv("WS_URL", "ws://localhost:8080/ws")
	roomID := getenv("ROOM_ID", "room-1")
	playerID := getenv("PLAYER_ID", "bot")

	tok, err := join(baseURL, roomID, playerID)
	if err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastSeq uint64
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt, rnd)
			log.Info().Dur("delay", delay).Int("attempt", attempt).Msg("reconnecting")
			time.Sleep(delay)
		}
		seq, err := run(wsURL, roomID, tok, lastSeq)
		if seq > lastSeq {
			lastSeq = seq
		}
		if err == nil {
			// Clean end, room closed or superseded.
			return
		}
		log.Warn().Err(err).Uint64("last_sequence", lastSeq).Msg("connection lost")
	}
	log.Error().Msg("gave up after max reconnect attempts")
}

// backoff doubles from one second per attempt, with up to one second of
// jitter so two bots dropped together do not thunder back in step.
func backoff(attempt int, rnd *rand.Rand) time.Duration {
	d := time.Second << (attempt - 1)
	if d > 16*time.Second {
		d = 16 * time.Second
	}
	return d + time.Duration(rnd.Int63n(int64(time.Second)))
}

func join(baseURL, roomID, playerID string) (string, error) {
	body, _ := json.Marshal(map[string]string{"player_id": playerID, "player_name": playerID})
	resp, err := http.Post(baseURL+"/api/rooms/"+roomID+"/join", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("join status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// run drives one websocket connection until it breaks or the room ends.
// Returns the highest acked sequence seen, for resume.
func run(wsURL, roomID, tok string, lastSeq uint64) (uint64, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return lastSeq, err
	}
	defer conn.Close()

	if err := conn.WriteJSON(attachMsg{Type: "attach", Token: tok, RoomID: roomID, LastSequence: lastSeq}); err != nil {
		return lastSeq, err
	}

	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()
	go func() {
		for range heartbeat.C {
			_ = conn.WriteJSON(map[string]string{"type": "heartbeat"})
		}
	}()

	for {
		var msg wireMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return lastSeq, err
		}
		switch msg.Type {
		case "attach_result":
			if !msg.Ok {
				return lastSeq, fmt.Errorf("attach rejected: %s", msg.Error)
			}
			log.Info().Str("room_id", roomID).Msg("attached")
		case "ping":
			_ = conn.WriteJSON(map[string]any{"type": "pong", "ts": msg.TS})
		case "recovery_payload":
			for _, a := range msg.MissedActions {
				if a.Sequence > lastSeq {
					lastSeq = a.Sequence
				}
			}
			log.Info().Int("missed", len(msg.MissedActions)).Uint64("last_sequence", lastSeq).Msg("recovered")
		case "action_ack":
			if msg.SequenceNumber > lastSeq {
				lastSeq = msg.SequenceNumber
			}
		case "connection_status":
			log.Info().Str("opponent", msg.PlayerID).Str("status", msg.Status).Msg("opponent status")
		case "abandoned_notice":
			log.Info().Msg("opponent abandoned; claiming victory")
			_ = conn.WriteJSON(map[string]string{"type": "claim_victory"})
		case "room_closed":
			log.Info().Str("winner_id", msg.WinnerID).Msg("room closed")
			return lastSeq, nil
		case "superseded":
			log.Info().Msg("superseded by a newer connection")
			return lastSeq, nil
		case "error":
			log.Warn().Str("code", msg.Code).Msg("server error")
		}
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
