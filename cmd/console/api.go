package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/google/uuid"

	"github.com/indraastra/iffy-sub000/pkg/engine"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// SessionResponse mirrors the API session payload.
type SessionResponse struct {
	ID        uuid.UUID         `json:"id"`
	StoryFile string            `json:"storyFile"`
	Variant   string            `json:"variant,omitempty"`
	Text      string            `json:"text,omitempty"`
	GameState *engine.GameState `json:"gameState"`
}

// ActionResponse mirrors the API turn payload.
type ActionResponse struct {
	Text            string            `json:"text"`
	SceneChanged    bool              `json:"sceneChanged"`
	EndingTriggered string            `json:"endingTriggered,omitempty"`
	Degraded        bool              `json:"degraded,omitempty"`
	GameState       *engine.GameState `json:"gameState"`
}

type storyListing struct {
	Title string `json:"title"`
	File  string `json:"file"`
}

func testConnection(client *http.Client, baseURL string) bool {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return resp.StatusCode == http.StatusOK
}

func listStories(client *http.Client, baseURL string) ([]string, map[string]string, error) {
	resp, err := client.Get(baseURL + "/v1/stories")
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	var listings []storyListing
	if err := json.Unmarshal(body, &listings); err != nil {
		return nil, nil, err
	}

	storyMap := make(map[string]string, len(listings))
	var titles []string
	for _, l := range listings {
		titles = append(titles, l.Title)
		storyMap[l.Title] = l.File
	}
	sort.Strings(titles)
	return titles, storyMap, nil
}

func createSession(client *http.Client, baseURL string, storyFile string) (*SessionResponse, error) {
	reqBody := map[string]string{"story": storyFile}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := client.Post(
		baseURL+"/v1/sessions",
		"application/json",
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		var errorResp ErrorResponse
		if err := json.Unmarshal(body, &errorResp); err != nil {
			return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("failed to create session: %s", errorResp.Error)
	}

	var created SessionResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("failed to parse session response: %w", err)
	}

	return &created, nil
}

func sendAction(client *http.Client, baseURL string, sessionID uuid.UUID, input string) (*ActionResponse, error) {
	reqBody := map[string]string{"input": input}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := client.Post(
		fmt.Sprintf("%s/v1/sessions/%s/action", baseURL, sessionID),
		"application/json",
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp ErrorResponse
		if err := json.Unmarshal(body, &errorResp); err != nil {
			return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("action failed: %s", errorResp.Error)
	}

	var action ActionResponse
	if err := json.Unmarshal(body, &action); err != nil {
		return nil, fmt.Errorf("failed to parse action response: %w", err)
	}

	return &action, nil
}

func getSession(client *http.Client, baseURL string, sessionID uuid.UUID) (*SessionResponse, error) {
	resp, err := client.Get(fmt.Sprintf("%s/v1/sessions/%s", baseURL, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp ErrorResponse
		if err := json.Unmarshal(body, &errorResp); err != nil {
			return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("failed to get session: %s", errorResp.Error)
	}

	var session SessionResponse
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to parse session response: %w", err)
	}
	return &session, nil
}
