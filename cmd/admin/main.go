package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"randolink/backend/internal/config"
	"randolink/backend/internal/store"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	storeSvc := store.NewService(db, nil) // No redis needed for admin CLI

	if len(os.Args) < 2 {
		fmt.Println("Usage: admin <command> [args]")
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "ban":
		if len(os.Args) < 3 {
			fmt.Println("Usage: admin ban <user_id> [duration_in_hours]")
			os.Exit(1)
		}
		userID := os.Args[2]
		var duration int
		if len(os.Args) > 3 {
			var err error
			duration, err = strconv.Atoi(os.Args[3])
			if err != nil {
				fmt.Println("Invalid duration. Please provide an integer.")
				os.Exit(1)
			}
		}
		if err := banUser(storeSvc, userID, duration); err != nil {
			log.Fatalf("Error banning user: %v", err)
		}
		fmt.Printf("User %s has been banned.\n", userID)
	case "unban":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin unban <user_id>")
			os.Exit(1)
		}
		userID := os.Args[2]
		if err := unbanUser(storeSvc, userID); err != nil {
			log.Fatalf("Error unbanning user: %v", err)
		}
		fmt.Printf("User %s has been unbanned.\n", userID)
	case "confirm-report":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin confirm-report <report_id>")
			os.Exit(1)
		}
		reportIDStr := os.Args[2]
		reportID, err := strconv.Atoi(reportIDStr)
		if err != nil {
			fmt.Println("Invalid report ID. Please provide an integer.")
			os.Exit(1)
		}
		if err := confirmReport(storeSvc, uint(reportID)); err != nil {
			log.Fatalf("Error confirming report: %v", err)
		}
		fmt.Printf("Report %s has been confirmed.\n", reportIDStr)
	default:
		fmt.Println("Unknown command")
		os.Exit(1)
	}
}

func banUser(s store.Storage, userID string, duration int) error {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return err
	}
	until := time.Now().Add(config.BanLevel1Duration)
	if duration > 0 {
		until = time.Now().Add(time.Duration(duration) * time.Hour)
	}
	user.IsBlocked = true
	user.BlockEndTime = until.Unix()
	return s.UpdateUser(user)
}

func unbanUser(s store.Storage, userID string) error {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return err
	}
	user.IsBlocked = false
	user.BlockEndTime = 0
	return s.UpdateUser(user)
}

// confirmReport rewards the reporter of a report a moderator verified.
func confirmReport(s store.Storage, reportID uint) error {
	report, err := s.GetReportByID(reportID)
	if err != nil {
		return err
	}
	return s.UpdateUserReputation(report.ReporterID, config.ConfirmedReportBonus)
}
