package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadCategoriesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.txt")
	content := "# 电视剧\nhttp://www.yatu.tv/m/tv/{page}.html\n\nhttp://no-placeholder/list.html\nnot a url {page}\nhttps://www.yatu.tv/m/dm/{page}.html\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadCategoriesFromFile(path)
	if err != nil {
		t.Fatalf("ReadCategoriesFromFile() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("期望2个有效分类, 得到 %d: %v", len(got), got)
	}

	empty := filepath.Join(t.TempDir(), "empty.txt")
	os.WriteFile(empty, []byte("# nothing\n"), 0644)
	if _, err := ReadCategoriesFromFile(empty); err == nil {
		t.Error("空文件应返回错误")
	}
}

func TestExpandPage(t *testing.T) {
	if got := ExpandPage("http://a/list-{page}.html", 3); got != "http://a/list-3.html" {
		t.Errorf("ExpandPage() = %s", got)
	}
}
