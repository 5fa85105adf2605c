package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/codexharvest/internal/models"
)

// maxTargetLineLen 单行URL的长度上限,更长的行整行跳过
const maxTargetLineLen = 4096

// ReadTargetsFromFile 从文件中读取任务URL列表
// 跳过空行与#注释;不符合任务页面格式或超长的行记录警告后跳过;重复URL只保留第一次
func ReadTargetsFromFile(path string, matcher *models.TargetMatcher) ([]models.Target, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开URL文件失败: %w", err)
	}
	defer file.Close()

	targets := make([]models.Target, 0)
	seen := make(map[string]bool)
	reader := bufio.NewReader(file)
	lineNum := 0

	for {
		raw, tooLong, err := readBoundedLine(reader, maxTargetLineLen)
		if err == io.EOF && raw == "" && !tooLong {
			break
		}
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("读取URL文件失败: %w", err)
		}
		lineNum++

		if tooLong {
			Warnf("跳过超长行 (行 %d): 超过 %d 字节", lineNum, maxTargetLineLen)
		} else if line := strings.TrimSpace(raw); line != "" && !strings.HasPrefix(line, "#") {
			target, perr := matcher.Parse(line)
			switch {
			case perr != nil:
				Warnf("跳过无效URL (行 %d): %s - %v", lineNum, line, perr)
			case seen[target.URL]:
				Debugf("跳过重复URL (行 %d): %s", lineNum, line)
			default:
				seen[target.URL] = true
				targets = append(targets, target)
			}
		}

		if err == io.EOF {
			break
		}
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("URL文件中没有有效的任务URL")
	}

	Infof("从文件加载了 %d 个任务URL", len(targets))
	return targets, nil
}

// readBoundedLine 读取一行,最多保留limit字节;超长时丢弃剩余部分并返回tooLong
func readBoundedLine(r *bufio.Reader, limit int) (string, bool, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return string(buf), tooLong, err
		}
		if !tooLong {
			if len(buf)+len(chunk) > limit {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			return string(buf), tooLong, nil
		}
	}
}

// WriteLines 每行一个写入文件,父目录不存在时创建
func WriteLines(path string, lines []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败: %w", err)
		}
	}
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("写入文件失败: %w", err)
	}
	return nil
}
