package main

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spruceid/mobile-sdk-go/dcapi"
	"github.com/spruceid/mobile-sdk-go/iso18013"
	"github.com/spruceid/mobile-sdk-go/mdoc"
	"github.com/spruceid/mobile-sdk-go/openid4vp"
)

// session holds the per-request secrets needed to decrypt the wallet's
// answer.
type session struct {
	privateKey     *ecdh.PrivateKey
	encryptionInfo string
}

type server struct {
	logger   *zap.Logger
	verifier *mdoc.Verifier

	mu       sync.Mutex
	sessions map[string]*session
}

func newServer(logger *zap.Logger) *server {
	return &server{
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

type startRequest struct {
	DocType  string              `json:"doc_type"`
	Elements map[string][]string `json:"elements"`
}

type startResponse struct {
	SessionID string          `json:"session_id"`
	Request   json.RawMessage `json:"request"`
}

// StartDCAPIRequest builds a DC API device request for the asked elements
// and remembers the decryption key under a fresh session id.
func (s *server) StartDCAPIRequest(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DocType == "" {
		req.DocType = "org.iso.18013.5.1.mDL"
	}
	if len(req.Elements) == 0 {
		req.Elements = map[string][]string{
			"org.iso.18013.5.1": {"family_name", "given_name", "age_over_21"},
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		s.fail(w, "failed to generate session key", err)
		return
	}
	ecdhKey, err := key.ECDH()
	if err != nil {
		s.fail(w, "failed to convert session key", err)
		return
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		s.fail(w, "failed to generate nonce", err)
		return
	}

	items := mdoc.ItemsRequest{DocType: mdoc.DocType(req.DocType)}
	items.NameSpaces = make(mdoc.RequestNameSpaces, len(req.Elements))
	for ns, elements := range req.Elements {
		dataElements := make(mdoc.RequestDataElements, len(elements))
		for _, element := range elements {
			dataElements[mdoc.ElementIdentifier(element)] = false
		}
		items.NameSpaces[mdoc.NameSpace(ns)] = dataElements
	}

	requestJSON, err := dcapi.BuildRequest(items, &key.PublicKey, nonce)
	if err != nil {
		s.fail(w, "failed to build DC API request", err)
		return
	}

	var built dcapi.Request
	if err := json.Unmarshal(requestJSON, &built); err != nil {
		s.fail(w, "failed to decode built request", err)
		return
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = &session{privateKey: ecdhKey, encryptionInfo: built.EncryptionInfo}
	s.mu.Unlock()

	s.respond(w, startResponse{SessionID: id, Request: requestJSON})
}

type finishRequest struct {
	SessionID string          `json:"session_id"`
	Origin    string          `json:"origin"`
	Response  json.RawMessage `json:"response"`
}

// FinishDCAPIRequest decrypts the wallet's response and returns the
// revealed elements as JSON.
func (s *server) FinishDCAPIRequest(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[req.SessionID]
	delete(s.sessions, req.SessionID)
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	deviceResponse, err := dcapi.DecryptResponse(req.Response, sess.privateKey, sess.encryptionInfo, req.Origin)
	if err != nil {
		s.fail(w, "failed to decrypt response", err)
		return
	}

	out := make([]map[string]map[string]interface{}, 0, len(deviceResponse.Documents))
	for i := range deviceResponse.Documents {
		doc := &deviceResponse.Documents[i]
		if s.verifier != nil {
			transcript, err := iso18013.DCAPISessionTranscript(sess.encryptionInfo, req.Origin)
			if err != nil {
				s.fail(w, "failed to rebuild session transcript", err)
				return
			}
			if err := s.verifier.Verify(doc, transcript); err != nil {
				s.fail(w, "document verification failed", err)
				return
			}
		}
		elements, err := mdoc.ElementsToJSON(doc)
		if err != nil {
			s.fail(w, "failed to render elements", err)
			return
		}
		out = append(out, elements)
	}
	s.respond(w, map[string]any{"documents": out})
}

// DirectPost accepts an OID4VP direct_post submission and echoes the query
// ids it answered.
func (s *server) DirectPost(w http.ResponseWriter, r *http.Request) {
	response, err := openid4vp.ParseDirectPost(r)
	if err != nil {
		s.fail(w, "failed to parse direct_post", err)
		return
	}

	queryIDs := make([]string, 0, len(response.VpToken))
	for id := range response.VpToken {
		queryIDs = append(queryIDs, id)
	}
	s.logger.Info("received presentation",
		zap.Strings("query_ids", queryIDs),
		zap.String("state", response.State))
	s.respond(w, map[string]any{"received": queryIDs})
}

func (s *server) respond(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to write response", zap.Error(err))
	}
}

func (s *server) fail(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	http.Error(w, msg, http.StatusBadRequest)
}
