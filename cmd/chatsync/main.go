package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"umbra/internal/adapter/repository"
	"umbra/internal/infrastructure/websocket"
	"umbra/internal/usecase"
	"umbra/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.UserID == "" {
		log.Fatalf("UMBRA_USER_ID must be set")
	}

	cache, err := repository.NewSQLiteUnreadCache(cfg.CachePath)
	if err != nil {
		log.Fatalf("Failed to open unread cache: %v", err)
	}
	defer cache.Close()

	chatService := repository.NewRESTChatService(cfg.APIBaseURL, cfg.UserID)
	session := websocket.NewSession(cfg.WebsocketURL)
	engine := usecase.NewEngine(cfg.UserID, chatService, session, cache, cfg.RoomRefreshDelay)
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := engine.Connect(ctx); err != nil {
		log.Printf("Realtime channel unavailable, continuing in pull-only mode: %v", err)
	}
	cancel()

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	if err := engine.LoadRooms(ctx); err != nil {
		log.Printf("Failed to load conversation list: %v", err)
	}
	if err := engine.RefreshUnread(ctx); err != nil {
		log.Printf("Failed to refresh unread counts: %v", err)
	}
	cancel()

	printRooms(engine)

	if len(os.Args) > 1 {
		target := os.Args[1]
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		// @user opens (or lazily creates) the direct room with that user.
		var roomID string
		var err error
		if strings.HasPrefix(target, "@") {
			roomID, err = engine.OpenDirectRoom(ctx, strings.TrimPrefix(target, "@"))
		} else {
			roomID = target
			err = engine.OpenRoom(ctx, roomID)
		}
		cancel()
		if err != nil {
			log.Fatalf("Failed to open %s: %v", target, err)
		}
		fmt.Printf("-- room %s open, type to send, /quit to exit --\n", roomID)
		runPrompt(engine)
		return
	}

	fmt.Println("usage: chatsync <room-id | @user-id>")
}

func runPrompt(engine *usecase.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return
		case line == "/messages":
			for _, msg := range engine.Messages() {
				marker := " "
				if msg.IsOwn {
					marker = ">"
				}
				fmt.Printf("%s [%s] %s: %s (%s)\n", marker, msg.CreatedAt.Format("15:04:05"), msg.SenderID, msg.Content, msg.Status)
			}
		case line == "/unread":
			fmt.Printf("total unread: %d %v\n", engine.UnreadTotal(), engine.UnreadCounts())
		case line == "":
		default:
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			_, err := engine.Send(ctx, usecase.SendInput{Content: line})
			cancel()
			if err != nil {
				log.Printf("Send failed: %v", err)
			}
		}
	}
}

func printRooms(engine *usecase.Engine) {
	for _, room := range engine.Rooms() {
		fmt.Printf("%s  %-20s unread=%d  %s\n", room.ID, room.Name, room.UnreadCount, room.LastMessage)
	}
}
