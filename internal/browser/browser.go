package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"cdptrack/internal/logger"
)

// Options 浏览器启动选项
type Options struct {
	ExecPath            string        // 可执行文件路径，空则按平台探测
	UserDataDir         string        // 用户数据目录，空则用临时目录
	RemoteDebuggingPort int           // CDP 端口，0 或被占用时退到随机空闲端口
	Headless            bool          // 无头模式
	Args                []string      // 追加的启动参数
	Logger              logger.Logger // 空则不记录
}

// Browser 已启动的浏览器进程句柄
type Browser struct {
	cmd         *exec.Cmd
	log         logger.Logger
	DevToolsURL string
	port        int
}

// Start 启动浏览器并等待 CDP 服务就绪
func Start(ctx context.Context, opts Options) (*Browser, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With("module", "browser")

	exe := opts.ExecPath
	if exe == "" {
		exe = locateChrome()
	}
	if exe == "" {
		return nil, errors.New("chrome executable not found")
	}

	preferred := opts.RemoteDebuggingPort
	if preferred == 0 {
		preferred = 9222
	}
	port, err := pickPort(preferred)
	if err != nil {
		return nil, fmt.Errorf("failed to pick port: %w", err)
	}
	if port != preferred {
		log.Warn("首选调试端口被占用，改用空闲端口", "preferred", preferred, "port", port)
	}

	cmd := exec.CommandContext(ctx, exe, launchArgs(port, opts)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	log.Info("浏览器已启动", "exec", exe, "port", port, "headless", opts.Headless)

	b := &Browser{
		cmd:         cmd,
		log:         log,
		DevToolsURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		port:        port,
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := waitDevToolsReady(waitCtx, b.DevToolsURL); err != nil {
		_ = b.Stop(2 * time.Second)
		return nil, fmt.Errorf("devtools not ready: %w", err)
	}
	log.Debug("DevTools 服务就绪", "url", b.DevToolsURL)

	return b, nil
}

// Stop 关闭浏览器进程
// Windows 上直接 Kill 以避免悬挂。
func (b *Browser) Stop(timeout time.Duration) error {
	if b == nil || b.cmd == nil || b.cmd.Process == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- b.cmd.Wait() }()
	_ = b.cmd.Process.Kill()
	select {
	case <-time.After(timeout):
		return errors.New("browser stop timeout")
	case err := <-done:
		b.log.Info("浏览器进程已退出")
		return err
	}
}

// locateChrome 按平台探测 Chrome 可执行文件，找不到时回退 PATH 查找
func locateChrome() string {
	var candidates []string
	switch runtime.GOOS {
	case "windows":
		candidates = []string{
			filepath.Join(os.Getenv("ProgramFiles"), "Google", "Chrome", "Application", "chrome.exe"),
			filepath.Join(os.Getenv("ProgramFiles(x86)"), "Google", "Chrome", "Application", "chrome.exe"),
			filepath.Join(os.Getenv("LOCALAPPDATA"), "Google", "Chrome", "Application", "chrome.exe"),
		}
	case "darwin":
		candidates = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			filepath.Join(os.Getenv("HOME"), "Applications", "Google Chrome.app", "Contents", "MacOS", "Google Chrome"),
		}
	case "linux":
		candidates = []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, name := range []string{"chrome", "google-chrome", "chromium", "chromium-browser"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// pickPort 尝试首选端口，被占用时选择随机空闲端口
func pickPort(preferred int) (int, error) {
	if preferred > 0 {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", preferred))
		if err == nil {
			_ = l.Close()
			return preferred, nil
		}
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// launchArgs 构建启动参数
func launchArgs(port int, opts Options) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-breakpad",
		"--disable-client-side-phishing-detection",
		"--disable-default-apps",
		"--disable-extensions",
		"--disable-hang-monitor",
		"--disable-prompt-on-repost",
		"--disable-renderer-backgrounding",
		"--disable-sync",
		"--disable-translate",
		"--metrics-recording-only",
		"--safebrowsing-disable-auto-update",
	}
	if runtime.GOOS == "linux" {
		args = append(args, "--disable-dev-shm-usage")
	}

	dir := opts.UserDataDir
	if dir == "" {
		// 带时间戳的临时目录，避免与历史实例冲突
		dir = filepath.Join(os.TempDir(), fmt.Sprintf("cdptrack-chrome-%d", time.Now().Unix()))
	}
	_ = os.MkdirAll(dir, 0o755)
	args = append(args, fmt.Sprintf("--user-data-dir=%s", dir))

	if opts.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	return append(args, opts.Args...)
}

// waitDevToolsReady 轮询 DevTools 服务是否就绪
func waitDevToolsReady(ctx context.Context, base string) error {
	url := fmt.Sprintf("%s/json/version", base)
	cli := &http.Client{Timeout: 500 * time.Millisecond}
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("devtools not ready after timeout: %w", ctx.Err())
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				continue
			}
			resp, err := cli.Do(req)
			if err == nil && resp.StatusCode == 200 {
				resp.Body.Close()
				return nil
			}
			if resp != nil {
				resp.Body.Close()
			}
		}
	}
}
