package interp

import "os"

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return ""
}

func projectPath() string {
	if p := os.Getenv("PROJECTPATH"); p != "" {
		return p
	}
	wd, _ := os.Getwd()
	return wd
}
