package server

import (
	"fmt"
	"net/http"
	"strings"

	"emochat/internal/app"
	"emochat/pkg/domain"
)

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	switch r.Method {
	case http.MethodGet:
		ctx, cancel := s.requestContext(r)
		defer cancel()
		conversations, err := s.app.ListConversations(ctx, identity.ID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if conversations == nil {
			conversations = []domain.ConversationSummary{}
		}
		writeJSON(w, http.StatusOK, conversations)
	case http.MethodPost:
		var req createConversationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		ctx, cancel := s.requestContext(r)
		defer cancel()
		conv, err := s.app.CreateConversation(ctx, identity.ID, req.Title)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/conversations/"), "/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleConversation(w, r, identity, parts[0])
	case len(parts) == 2 && parts[1] == "messages":
		s.handleMessages(w, r, identity, parts[0])
	case len(parts) == 3 && parts[1] == "messages" && parts[2] == "bulk":
		s.handleBulkMessages(w, r, identity, parts[0])
	default:
		s.handleNotFound(w, r)
	}
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request, identity domain.Identity, conversationID string) {
	switch r.Method {
	case http.MethodGet:
		ctx, cancel := s.requestContext(r)
		defer cancel()
		conv, messages, err := s.app.GetConversation(ctx, identity.ID, conversationID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if messages == nil {
			messages = []domain.Message{}
		}
		writeJSON(w, http.StatusOK, conversationDetail{Conversation: conv, Messages: messages})
	case http.MethodPut:
		var req renameConversationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		ctx, cancel := s.requestContext(r)
		defer cancel()
		conv, err := s.app.RenameConversation(ctx, identity.ID, conversationID, req.Title)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	case http.MethodDelete:
		ctx, cancel := s.requestContext(r)
		defer cancel()
		deleted, err := s.app.DeleteConversation(ctx, identity.ID, conversationID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, deleteConversationResponse{
			Success: true,
			Message: fmt.Sprintf("Conversation and %d message(s) deleted successfully", deleted),
		})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, identity domain.Identity, conversationID string) {
	switch r.Method {
	case http.MethodGet:
		ctx, cancel := s.requestContext(r)
		defer cancel()
		messages, err := s.app.ListMessages(ctx, identity.ID, conversationID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if messages == nil {
			messages = []domain.Message{}
		}
		writeJSON(w, http.StatusOK, messages)
	case http.MethodPost:
		var req messageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		ctx, cancel := s.requestContext(r)
		defer cancel()
		msg, err := s.app.AddMessage(ctx, identity.ID, conversationID, app.MessageInput{
			Role:    req.Role,
			Content: req.Content,
		})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBulkMessages(w http.ResponseWriter, r *http.Request, identity domain.Identity, conversationID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req bulkMessagesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	inputs := make([]app.MessageInput, 0, len(req.Messages))
	for _, m := range req.Messages {
		inputs = append(inputs, app.MessageInput{Role: m.Role, Content: m.Content})
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	messages, err := s.app.AddMessages(ctx, identity.ID, conversationID, inputs)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bulkMessagesResponse{Success: true, Messages: messages})
}

type createConversationRequest struct {
	Title string `json:"title"`
}

type renameConversationRequest struct {
	Title string `json:"title"`
}

type conversationDetail struct {
	domain.Conversation
	Messages []domain.Message `json:"messages"`
}

type deleteConversationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bulkMessagesRequest struct {
	Messages []messageRequest `json:"messages"`
}

type bulkMessagesResponse struct {
	Success  bool             `json:"success"`
	Messages []domain.Message `json:"messages"`
}
