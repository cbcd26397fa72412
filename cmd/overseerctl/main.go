package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Overseer server URL")
	flag.Parse()

	fmt.Println("Overseer CLI")
	fmt.Printf("Server: %s\n", *server)
	fmt.Println("Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /groups, /sessions, /group <id>, /dispatch <id> <prompt>, /reflection <id>, /pause <id>, /resume <id>, /cancel <id>")
	fmt.Println("---")

	fetchGroups(*server)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}

		fields := strings.Fields(input)
		switch fields[0] {
		case "/groups":
			fetchGroups(*server)
		case "/sessions":
			fetchSessions(*server)
		case "/group":
			if len(fields) < 2 {
				printError("usage: /group <id>")
				continue
			}
			fetchGroup(*server, fields[1])
		case "/dispatch":
			if len(fields) < 3 {
				printError("usage: /dispatch <id> <prompt>")
				continue
			}
			dispatch(*server, fields[1], strings.Join(fields[2:], " "))
		case "/reflection":
			if len(fields) < 2 {
				printError("usage: /reflection <id>")
				continue
			}
			fetchReflection(*server, fields[1])
		case "/pause", "/resume", "/cancel":
			if len(fields) < 2 {
				printError("usage: %s <id>", fields[0])
				continue
			}
			postReflectionAction(*server, fields[1], strings.TrimPrefix(fields[0], "/"))
		default:
			printError("unknown command: %s", fields[0])
		}
	}
}

func fetchGroups(server string) {
	resp, err := http.Get(server + "/api/groups")
	if err != nil {
		printError("Failed to fetch groups: %v", err)
		return
	}
	defer resp.Body.Close()

	var groups []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		Mode         string `json:"mode"`
		IsMultiAgent bool   `json:"isMultiAgent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		printError("Failed to parse groups: %v", err)
		return
	}
	if len(groups) == 0 {
		fmt.Println("No groups yet.")
		return
	}
	fmt.Println("Groups:")
	for _, g := range groups {
		fmt.Printf("  %s  %s (%s)\n", g.ID, g.Name, g.Mode)
	}
}

func fetchSessions(server string) {
	resp, err := http.Get(server + "/api/sessions")
	if err != nil {
		printError("Failed to fetch sessions: %v", err)
		return
	}
	defer resp.Body.Close()

	var sessions []struct {
		Name string `json:"name"`
		Busy bool   `json:"busy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		printError("Failed to parse sessions: %v", err)
		return
	}
	fmt.Println("Sessions:")
	for _, s := range sessions {
		state := "idle"
		if s.Busy {
			state = "busy"
		}
		fmt.Printf("  %s (%s)\n", s.Name, state)
	}
}

func fetchGroup(server, id string) {
	resp, err := http.Get(server + "/api/groups/" + id)
	if err != nil {
		printError("Failed to fetch group: %v", err)
		return
	}
	defer resp.Body.Close()

	var out struct {
		Group struct {
			Name string `json:"name"`
			Mode string `json:"mode"`
		} `json:"group"`
		Members []struct {
			SessionName    string `json:"sessionName"`
			Role           string `json:"role"`
			PreferredModel string `json:"preferredModel,omitempty"`
		} `json:"members"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		printError("Failed to parse group: %v", err)
		return
	}
	fmt.Printf("%s (%s)\n", out.Group.Name, out.Group.Mode)
	for _, m := range out.Members {
		line := fmt.Sprintf("  %s [%s]", m.SessionName, m.Role)
		if m.PreferredModel != "" {
			line += " model=" + m.PreferredModel
		}
		fmt.Println(line)
	}
}

func dispatch(server, id, prompt string) {
	body, _ := json.Marshal(map[string]string{"prompt": prompt})

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(
		server+"/api/groups/"+id+"/dispatch",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}
	fmt.Println("Dispatched. Watch with /reflection", id)
}

func fetchReflection(server, id string) {
	resp, err := http.Get(server + "/api/groups/" + id + "/reflection")
	if err != nil {
		printError("Failed to fetch reflection: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var rs struct {
		Goal             string  `json:"goal"`
		CurrentIteration int     `json:"currentIteration"`
		MaxIterations    int     `json:"maxIterations"`
		IsActive         bool    `json:"isActive"`
		IsPaused         bool    `json:"isPaused"`
		GoalMet          bool    `json:"goalMet"`
		IsStalled        bool    `json:"isStalled"`
		LastSimilarity   float64 `json:"lastSimilarity"`
		History          []struct {
			Score     float64 `json:"score"`
			Rationale string  `json:"rationale"`
		} `json:"evaluationHistory"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rs); err != nil {
		printError("Failed to parse reflection: %v", err)
		return
	}

	status := "idle"
	switch {
	case rs.IsPaused:
		status = "paused"
	case rs.IsActive:
		status = "running"
	case rs.GoalMet:
		status = "goal met"
	case rs.IsStalled:
		status = "stalled"
	case rs.CurrentIteration >= rs.MaxIterations:
		status = "iteration limit"
	}
	fmt.Printf("Goal: %s\n", rs.Goal)
	fmt.Printf("Iteration %d/%d — %s (last similarity %.2f)\n",
		rs.CurrentIteration, rs.MaxIterations, status, rs.LastSimilarity)
	for i, h := range rs.History {
		fmt.Printf("  #%d score=%.2f %s\n", i+1, h.Score, truncate(h.Rationale, 80))
	}
}

func postReflectionAction(server, id, action string) {
	resp, err := http.Post(server+"/api/groups/"+id+"/reflection/"+action, "application/json", nil)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}
	fmt.Println("OK")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
