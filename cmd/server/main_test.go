package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-messenger-bot/internal/config"
	"kb-messenger-bot/internal/handover"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("DATABASE_MYSQL_DSN", "")
	t.Setenv("DATABASE_REDIS_ADDR", "")
	return path
}

func TestRun_ReturnsInitErrorsInsteadOfExiting(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "配置文件不存在",
			wantErr: "加载配置失败",
		},
		{
			name: "未知的知识库数据源",
			body: `
knowledge:
  source: "sheets"
`,
			wantErr: "初始化知识库数据源失败",
		},
		{
			name: "未知的接管存储",
			body: `
knowledge:
  workbook:
    path: "./kb.xlsx"
handover:
  store: "etcd"
`,
			wantErr: "初始化人工接管存储失败",
		},
		{
			name: "未知的未回答问题去向",
			body: `
knowledge:
  workbook:
    path: "./kb.xlsx"
unanswered:
  sink: "email"
`,
			wantErr: "初始化未回答问题记录失败",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "missing.yaml")
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}

			err := run(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResources_CloseWithoutConnections(t *testing.T) {
	res := &resources{}
	assert.NotPanics(t, res.Close)
	assert.Nil(t, res.unansweredRepo())
}

func TestBuildHandoverStore_MemoryByDefault(t *testing.T) {
	cfg := &config.Config{}
	cfg.Handover.Window = time.Minute

	res := &resources{}
	defer res.Close()

	store, err := buildHandoverStore(context.Background(), cfg, res)
	require.NoError(t, err)
	assert.IsType(t, &handover.MemoryStore{}, store)
	assert.Nil(t, res.rdb)
}
