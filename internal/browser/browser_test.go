package browser

import (
	"net"
	"strings"
	"testing"
)

// contains 判断参数列表中是否存在指定项。
func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

// TestLaunchArgs 测试启动参数按选项拼装。
func TestLaunchArgs(t *testing.T) {
	dir := t.TempDir()
	args := launchArgs(9333, Options{
		UserDataDir: dir,
		Headless:    true,
		Args:        []string{"--lang=zh-CN"},
	})

	if !contains(args, "--remote-debugging-port=9333") {
		t.Error("预期携带调试端口参数")
	}
	if !contains(args, "--user-data-dir="+dir) {
		t.Error("预期携带用户数据目录参数")
	}
	if !contains(args, "--headless=new") {
		t.Error("预期无头模式携带 headless 参数")
	}
	if !contains(args, "--lang=zh-CN") {
		t.Error("预期追加的启动参数排在末尾")
	}
}

// TestLaunchArgs_DefaultUserDataDir 测试未指定数据目录时用带前缀的临时目录。
func TestLaunchArgs_DefaultUserDataDir(t *testing.T) {
	args := launchArgs(9222, Options{})

	var dataDir string
	for _, a := range args {
		if strings.HasPrefix(a, "--user-data-dir=") {
			dataDir = strings.TrimPrefix(a, "--user-data-dir=")
		}
	}
	if dataDir == "" {
		t.Fatal("预期始终携带用户数据目录参数")
	}
	if !strings.Contains(dataDir, "cdptrack-chrome-") {
		t.Errorf("预期临时目录带 cdptrack-chrome- 前缀，实际 %s", dataDir)
	}
	if contains(args, "--headless=new") {
		t.Error("预期非无头模式不携带 headless 参数")
	}
}

// TestPickPort_PreferredBusy 测试首选端口被占用时退到随机空闲端口。
func TestPickPort_PreferredBusy(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("占位监听失败: %v", err)
	}
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port

	got, err := pickPort(busy)
	if err != nil {
		t.Fatalf("选择端口失败: %v", err)
	}
	if got == busy {
		t.Errorf("预期避开被占用端口 %d", busy)
	}
	if got <= 0 {
		t.Errorf("预期返回有效端口，实际 %d", got)
	}
}

// TestPickPort_PreferredFree 测试首选端口空闲时直接采用。
func TestPickPort_PreferredFree(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("占位监听失败: %v", err)
	}
	free := l.Addr().(*net.TCPAddr).Port
	l.Close()

	got, err := pickPort(free)
	if err != nil {
		t.Fatalf("选择端口失败: %v", err)
	}
	if got != free {
		t.Errorf("预期采用空闲的首选端口 %d，实际 %d", free, got)
	}
}
