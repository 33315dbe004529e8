package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"coach_reconcile/internal/logger"
)

// findRootDir tìm thư mục gốc của project (thư mục chứa config/)
func findRootDir() (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(currentDir, "config")); err == nil {
			return currentDir, nil
		}

		// Đi lên thư mục cha
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return "", fmt.Errorf("không tìm thấy thư mục gốc chứa config/")
		}
		currentDir = parentDir
	}
}

// resolveCredentialsPath đường dẫn tương đối được tính từ thư mục gốc của project
func resolveCredentialsPath(credentialsPath string) (string, error) {
	if credentialsPath == "" {
		return "", nil
	}
	if !filepath.IsAbs(credentialsPath) {
		rootDir, err := findRootDir()
		if err != nil {
			return "", err
		}
		credentialsPath = filepath.Join(rootDir, credentialsPath)
	}
	if _, err := os.Stat(credentialsPath); os.IsNotExist(err) {
		return "", fmt.Errorf("firebase credentials file not found: %s", credentialsPath)
	}
	return credentialsPath, nil
}

// GetFirestoreClient khởi tạo Firebase Admin SDK và trả về Firestore client.
// Không có file credentials thì dùng Application Default Credentials.
func GetFirestoreClient(ctx context.Context, projectID, credentialsPath string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firebase project id is empty")
	}

	path, err := resolveCredentialsPath(credentialsPath)
	if err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}

	// Tạo Firebase app
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firestore client: %w", err)
	}

	logger.GetAppLogger().WithField("project_id", projectID).Info("Successfully connected to Firestore")
	return client, nil
}
