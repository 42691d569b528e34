package db_test

import (
	"testing"

	"cdptrack/internal/storage/db"
	"cdptrack/internal/storage/model"
)

// TestNewMemoryDatabase 测试内存数据库的创建与迁移。
func TestNewMemoryDatabase(t *testing.T) {
	gdb, err := db.New(db.Options{Name: ":memory:", Prefix: "test_"})
	if err != nil {
		t.Fatalf("创建内存数据库失败: %v", err)
	}

	if err := db.Migrate(gdb, &model.Setting{}, &model.TrajectoryEventRecord{}); err != nil {
		t.Fatalf("迁移数据库失败: %v", err)
	}

	if !gdb.Migrator().HasTable(&model.Setting{}) {
		t.Error("预期 Setting 表已创建")
	}
	if !gdb.Migrator().HasTable(&model.TrajectoryEventRecord{}) {
		t.Error("预期 TrajectoryEventRecord 表已创建")
	}
}

// TestTablePrefix 测试表前缀生效。
func TestTablePrefix(t *testing.T) {
	gdb, err := db.New(db.Options{Name: ":memory:", Prefix: "cdptrack_"})
	if err != nil {
		t.Fatalf("创建内存数据库失败: %v", err)
	}
	if err := db.Migrate(gdb, &model.Setting{}); err != nil {
		t.Fatalf("迁移数据库失败: %v", err)
	}

	if !gdb.Migrator().HasTable("cdptrack_setting") {
		t.Error("预期带前缀的单数表名 cdptrack_setting")
	}
}

// TestBasicReadWrite 测试基础读写。
func TestBasicReadWrite(t *testing.T) {
	gdb, err := db.New(db.Options{Name: ":memory:", Prefix: "test_"})
	if err != nil {
		t.Fatalf("创建内存数据库失败: %v", err)
	}
	if err := db.Migrate(gdb, &model.Setting{}); err != nil {
		t.Fatalf("迁移数据库失败: %v", err)
	}

	if err := gdb.Create(&model.Setting{Key: "k", Value: "v"}).Error; err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	var got model.Setting
	if err := gdb.First(&got, "key = ?", "k").Error; err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if got.Value != "v" {
		t.Errorf("预期值 v，实际 %q", got.Value)
	}
}
