// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/verify"
	"github.com/ethereum/zk-ceremony-coordinator/internal/cerrors"
	"github.com/ethereum/zk-ceremony-coordinator/internal/identity"
	"github.com/ethereum/zk-ceremony-coordinator/store/object"
)

// Authenticator validates a bearer token and returns its claims. Satisfied
// by *identity.Provider; an interface here so tests can stub it without
// minting real JWTs.
type Authenticator interface {
	Authenticate(tokenString string) (identity.Claims, error)
}

// Server exposes every callable entry point of spec §6 as a plain
// HTTP/JSON handler, the way the teacher's node exposes its RPC
// namespaces over HTTP without requiring a .proto codegen step: one
// mux route per method, a shared auth middleware, and errors translated
// through internal/cerrors' gRPC status codes to HTTP status codes via
// grpc-gateway's runtime.HTTPStatusFromCode — the same table a generated
// gateway would use, hand-applied instead of generated.
type Server struct {
	mux    *http.ServeMux
	auth   Authenticator
	cer    *CeremonyAPI
	contr  *ContributionAPI
	upload *UploadAPI
	coord  *CoordinatorAPI
}

// NewServer wires every entry point onto its route and returns the
// resulting http.Handler.
func NewServer(auth Authenticator, cer *CeremonyAPI, contr *ContributionAPI, upload *UploadAPI, coord *CoordinatorAPI) *Server {
	s := &Server{mux: http.NewServeMux(), auth: auth, cer: cer, contr: contr, upload: upload, coord: coord}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	// Coordinator-only.
	s.mux.HandleFunc("/v1/setup-ceremony", s.withAuth(true, s.handleSetupCeremony))
	s.mux.HandleFunc("/v1/create-bucket", s.withAuth(true, s.handleCreateBucket))
	s.mux.HandleFunc("/v1/finalize-circuit", s.withAuth(true, s.handleFinalizeCircuit))
	s.mux.HandleFunc("/v1/finalize-ceremony", s.withAuth(true, s.handleFinalizeCeremony))

	// Participant-facing.
	s.mux.HandleFunc("/v1/check-participant", s.withAuth(false, s.handleCheckParticipant))
	s.mux.HandleFunc("/v1/progress-contribution-step", s.withAuth(false, s.handleProgressContributionStep))
	s.mux.HandleFunc("/v1/progress-next-circuit", s.withAuth(false, s.handleProgressNextCircuit))
	s.mux.HandleFunc("/v1/resume-after-timeout", s.withAuth(false, s.handleResumeAfterTimeout))
	s.mux.HandleFunc("/v1/start-multipart-upload", s.withAuth(false, s.handleStartMultiPartUpload))
	s.mux.HandleFunc("/v1/presign-upload-parts", s.withAuth(false, s.handlePresignUploadParts))
	s.mux.HandleFunc("/v1/complete-multipart-upload", s.withAuth(false, s.handleCompleteMultiPartUpload))
	s.mux.HandleFunc("/v1/presign-get-object", s.withAuth(false, s.handlePresignGetObject))
	s.mux.HandleFunc("/v1/persist-chunk", s.withAuth(false, s.handlePersistChunk))
	s.mux.HandleFunc("/v1/store-contribution-time-hash", s.withAuth(false, s.handleStoreContributionTimeHash))
	s.mux.HandleFunc("/v1/verify-contribution", s.withAuth(false, s.handleVerifyContribution))
}

// withAuth parses the Authorization header, rejects missing/invalid
// tokens and (when requireCoordinator) non-coordinator roles, then calls
// next with a context carrying the validated claims.
func (s *Server) withAuth(requireCoordinator bool, next func(context.Context, identity.Claims, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tokenString == "" {
			writeError(w, cerrors.Unauthenticated("missing bearer token"))
			return
		}
		claims, err := s.auth.Authenticate(tokenString)
		if err != nil {
			writeError(w, err)
			return
		}
		if requireCoordinator {
			if err := identity.RequireCoordinator(claims.Role); err != nil {
				writeError(w, err)
				return
			}
		}
		next(r.Context(), claims, w, r)
	}
}

// participantID derives the caller's participant id from their token
// subject rather than trusting a client-supplied field, so one
// participant cannot act on another's behalf.
func participantID(claims identity.Claims) string { return claims.Subject }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	st, ok := status.FromError(errors.UnwrapAll(err))
	if !ok {
		st = status.New(codes.Internal, err.Error())
	}
	writeJSON(w, gwruntime.HTTPStatusFromCode(st.Code()), map[string]string{"error": st.Message()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return cerrors.InvalidArgument("malformed JSON body: " + err.Error())
	}
	return nil
}

// --- coordinator-only handlers ---

type setupCeremonyRequest struct {
	Prefix           string
	Title            string
	Description      string
	StartDate        int64
	EndDate          int64
	Protocol         ceremony.CircuitProtocol
	TimeoutMechanism ceremony.TimeoutMechanism
	PenaltyMinutes   int
	Circuits         []CircuitSpec
}

func (s *Server) handleSetupCeremony(ctx context.Context, _ identity.Claims, w http.ResponseWriter, r *http.Request) {
	var req setupCeremonyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.cer.SetupCeremony(ctx, req.Prefix, req.Title, req.Description, req.StartDate, req.EndDate,
		req.Protocol, req.TimeoutMechanism, req.PenaltyMinutes, req.Circuits)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ceremonyId": id})
}

func (s *Server) handleCreateBucket(ctx context.Context, _ identity.Claims, w http.ResponseWriter, r *http.Request) {
	var req struct{ CeremonyID string }
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	bucket, err := s.cer.CreateBucket(ctx, req.CeremonyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"bucket": bucket})
}

func (s *Server) handleFinalizeCircuit(ctx context.Context, _ identity.Claims, w http.ResponseWriter, r *http.Request) {
	var req struct{
		CeremonyID  string
		CircuitID   string
		BeaconValue []byte
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.coord.FinalizeCircuit(ctx, req.CeremonyID, req.CircuitID, req.BeaconValue); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleFinalizeCeremony(ctx context.Context, _ identity.Claims, w http.ResponseWriter, r *http.Request) {
	var req struct{ CeremonyID string }
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.coord.FinalizeCeremony(ctx, req.CeremonyID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- participant-facing handlers ---

func (s *Server) handleCheckParticipant(ctx context.Context, claims identity.Claims, w http.ResponseWriter, r *http.Request) {
	var req struct{ CeremonyID string }
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ok, err := s.cer.CheckParticipantForCeremony(ctx, req.CeremonyID, participantID(claims))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"canContribute": ok})
}

func (s *Server) handleProgressContributionStep(ctx context.Context, claims identity.Claims, w http.ResponseWriter, _ *http.Request) {
	if err := s.cer.ProgressToNextContributionStep(ctx, participantID(claims)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleProgressNextCircuit(ctx context.Context, claims identity.Claims, w http.ResponseWriter, r *http.Request) {
	var req struct{ CeremonyID string }
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.cer.ProgressToNextCircuitForContribution(ctx, req.CeremonyID, participantID(claims)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleResumeAfterTimeout(ctx context.Context, claims identity.Claims, w http.ResponseWriter, r *http.Request) {
	var req struct{ CeremonyID string }
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.cer.ResumeContributionAfterTimeoutExpiration(ctx, req.CeremonyID, participantID(claims)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStartMultiPartUpload(ctx context.Context, claims identity.Claims, w http.ResponseWriter, r *http.Request) {
	var req struct {
		CeremonyID string
		CircuitID  string
		ObjectKey  string
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	uploadID, err := s.upload.StartMultiPartUpload(ctx, req.CeremonyID, req.CircuitID, participantID(claims), req.ObjectKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uploadId": uploadID})
}

func (s *Server) handlePresignUploadParts(ctx context.Context, claims identity.Claims, w http.ResponseWriter, r *http.Request) {
	var req struct {
		CeremonyID    string
		CircuitID     string
		ObjectKey     string
		UploadID      string
		NumberOfParts int32
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	urls, err := s.upload.GeneratePreSignedUrlsParts(ctx, req.CeremonyID, req.CircuitID, participantID(claims), req.ObjectKey, req.UploadID, req.NumberOfParts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"urls": urls})
}

func (s *Server) handleCompleteMultiPartUpload(ctx context.Context, claims identity.Claims, w http.ResponseWriter, r *http.Request) {
	var req struct {
		CeremonyID string
		CircuitID  string
		ObjectKey  string
		UploadID   string
		Parts      []object.Part
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	location, err := s.upload.CompleteMultiPartUpload(ctx, req.CeremonyID, req.CircuitID, participantID(claims), req.ObjectKey, req.UploadID, req.Parts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"location": location})
}

func (s *Server) handlePresignGetObject(ctx context.Context, claims identity.Claims, w http.ResponseWriter, r *http.Request) {
	var req struct {
		CeremonyID string
		Bucket     string
		ObjectKey  string
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	isCoordinator := claims.Role == identity.RoleCoordinator
	url, err := s.upload.GenerateGetObjectPreSignedUrl(ctx, req.CeremonyID, req.Bucket, req.ObjectKey, isCoordinator)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handlePersistChunk(ctx context.Context, claims identity.Claims, w http.ResponseWriter, r *http.Request) {
	var part ceremony.UploadedPart
	if err := decode(r, &part); err != nil {
		writeError(w, err)
		return
	}
	if err := s.upload.PersistChunk(ctx, participantID(claims), part); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStoreContributionTimeHash(ctx context.Context, claims identity.Claims, w http.ResponseWriter, r *http.Request) {
	var req struct {
		CircuitID             string
		ComputationTimeMillis int64
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.contr.PermanentlyStoreCurrentContributionTimeAndHash(ctx, req.CircuitID, participantID(claims), req.ComputationTimeMillis); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleVerifyContribution(ctx context.Context, claims identity.Claims, w http.ResponseWriter, r *http.Request) {
	var req verify.Request
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.ParticipantID = participantID(claims)
	result, err := s.contr.VerifyContribution(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
