package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"poletrack/internal/auth"
	"poletrack/internal/config"
	"poletrack/internal/database"
	"poletrack/internal/errcode"
)

func main() {
	var (
		email   = flag.String("email", "", "要授予管理员权限的账号邮箱（必填）")
		revoke  = flag.Bool("revoke", false, "撤销而不是授予管理员权限")
		create  = flag.Bool("create", false, "账号不存在时以随机密码创建")
		driver  = flag.String("db-driver", "", "数据库驱动 postgres/sqlite（可选，默认读 DATABASE_DRIVER）")
		dbPath  = flag.String("db-sqlite-path", "", "SQLite 文件（可选，默认读 DATABASE_SQLITE_PATH）")
		dbHost  = flag.String("db-host", "", "数据库 Host（可选，默认读 DATABASE_HOST）")
		dbPort  = flag.Int("db-port", 0, "数据库 Port（可选，默认读 DATABASE_PORT）")
		dbName  = flag.String("db-name", "", "数据库名（可选，默认读 POSTGRES_DB）")
		dbUser  = flag.String("db-user", "", "数据库用户（可选，默认读 POSTGRES_USER）")
		dbPass  = flag.String("db-password", "", "数据库密码（可选，默认读 POSTGRES_PASSWORD）")
		sslMode = flag.String("db-sslmode", "", "数据库 SSLMODE（可选，默认读 DATABASE_SSLMODE）")
	)
	flag.Parse()

	target := auth.NormalizeEmail(*email)
	if target == "" {
		log.Fatal("missing required flag: --email")
	}

	dbCfg, err := loadDatabaseConfig(config.DatabaseConfig{
		Driver:     *driver,
		SQLitePath: *dbPath,
		Host:       *dbHost,
		Port:       *dbPort,
		Name:       *dbName,
		User:       *dbUser,
		Password:   *dbPass,
		SSLMode:    *sslMode,
	})
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}

	db, err := database.InitDatabase(dbCfg)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	ctx := context.Background()
	directory := auth.NewDirectory(db)

	if *create && !*revoke {
		password, err := generateRandomPassword(24)
		if err != nil {
			log.Fatalf("generate password: %v", err)
		}
		_, err = directory.Register(ctx, target, password, nil)
		switch {
		case err == nil:
			fmt.Printf("已创建账号：%s\n", target)
			fmt.Printf("初始密码: %s\n", password)
			fmt.Printf("提示：该密码仅显示一次，请登录后尽快修改。\n")
		case errcode.KindOf(err) == errcode.KindConflict:
			// 账号已存在，直接授予权限。
		default:
			log.Fatalf("create account: %v", err)
		}
	}

	profile, err := directory.SetAdmin(ctx, target, !*revoke)
	if err != nil {
		if errcode.KindOf(err) == errcode.KindNotFound {
			log.Fatalf("account %q not found (use --create to create it)", target)
		}
		log.Fatalf("update admin flag: %v", err)
	}

	if profile.IsAdmin {
		fmt.Printf("%s 现在是管理员\n", target)
	} else {
		fmt.Printf("%s 的管理员权限已撤销\n", target)
	}
}

// loadDatabaseConfig 以命令行参数优先，其次读取与 API 相同的环境变量。
func loadDatabaseConfig(flags config.DatabaseConfig) (config.DatabaseConfig, error) {
	cfg := flags
	cfg.Driver = firstNonEmpty(cfg.Driver, os.Getenv("DATABASE_DRIVER"), "postgres")
	cfg.SQLitePath = firstNonEmpty(cfg.SQLitePath, os.Getenv("DATABASE_SQLITE_PATH"), "poletrack.db")
	if strings.EqualFold(cfg.Driver, "sqlite") {
		return cfg, nil
	}

	if cfg.Port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			cfg.Port = p
		}
	}
	if cfg.Port <= 0 {
		cfg.Port = 5432
	}
	cfg.Host = firstNonEmpty(cfg.Host, os.Getenv("DATABASE_HOST"), "localhost")
	cfg.Name = firstNonEmpty(cfg.Name, os.Getenv("POSTGRES_DB"))
	cfg.User = firstNonEmpty(cfg.User, os.Getenv("POSTGRES_USER"))
	cfg.Password = firstNonEmpty(cfg.Password, os.Getenv("POSTGRES_PASSWORD"))
	cfg.SSLMode = firstNonEmpty(cfg.SSLMode, os.Getenv("DATABASE_SSLMODE"), "disable")

	switch {
	case cfg.Name == "":
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	case cfg.User == "":
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	case cfg.Password == "":
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func generateRandomPassword(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
