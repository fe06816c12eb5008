package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stock-monitor/internal/logger"
	"stock-monitor/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// DB encapsula a conexão com o banco de dados e implementa monitor.Store
type DB struct {
	conn   *sql.DB
	logger logger.Logger
}

// New cria uma nova instância do banco de dados
func New(dbPath string, log logger.Logger) (*DB, error) {
	if log == nil {
		log = logger.NewNop()
	}
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite aceita um escritor por vez
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, logger: log}

	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info("Banco de dados inicializado com sucesso", logger.String("path", dbPath))
	return db, nil
}

// Close fecha a conexão com o banco de dados
func (db *DB) Close() error {
	return db.conn.Close()
}

// init cria as tabelas necessárias
func (db *DB) init() error {
	createTablesSQL := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		url TEXT NOT NULL UNIQUE,
		name TEXT,
		image_url TEXT,
		interval_ms INTEGER NOT NULL,
		auto_start BOOLEAN DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS variants (
		id TEXT NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		kind TEXT NOT NULL,
		option_name TEXT,
		url TEXT NOT NULL,
		name TEXT,
		price TEXT,
		image_url TEXT,
		stock INTEGER,
		is_available BOOLEAN DEFAULT 0,
		is_monitoring BOOLEAN DEFAULT 0,
		last_checked DATETIME,
		total_checks INTEGER DEFAULT 0,
		successful_checks INTEGER DEFAULT 0,
		error_count INTEGER DEFAULT 0,
		PRIMARY KEY (product_id, id)
	);

	CREATE TABLE IF NOT EXISTS monitor_events (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		product_id TEXT,
		product_name TEXT,
		variant_id TEXT,
		status TEXT NOT NULL,
		message TEXT,
		timestamp DATETIME NOT NULL,
		latency_ms INTEGER,
		http_status INTEGER
	);
	`

	if _, err := db.conn.Exec(createTablesSQL); err != nil {
		return err
	}

	// Tentar adicionar colunas se não existirem (migração)
	// SQLite não suporta IF NOT EXISTS em ALTER TABLE, então ignoramos o erro
	_, _ = db.conn.Exec("ALTER TABLE products ADD COLUMN user_agent TEXT")
	_, _ = db.conn.Exec("ALTER TABLE variants ADD COLUMN sku TEXT")
	_, _ = db.conn.Exec("ALTER TABLE variants ADD COLUMN interval_ms INTEGER DEFAULT 0")

	return nil
}

// SaveProducts substitui o snapshot completo de produtos numa única transação
func (db *DB) SaveProducts(ctx context.Context, products []models.Product) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM variants"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM products"); err != nil {
		return err
	}

	productStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO products (id, position, url, name, image_url, interval_ms, auto_start, max_retries, created_at, user_agent) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer productStmt.Close()

	variantStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO variants (id, product_id, position, kind, option_name, url, name, price, image_url, stock,
			is_available, is_monitoring, last_checked, total_checks, successful_checks, error_count, sku, interval_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer variantStmt.Close()

	for i, p := range products {
		if _, err := productStmt.ExecContext(ctx,
			p.ID, i, p.URL, p.Name, p.ImageURL, p.Interval.Milliseconds(), p.AutoStart, p.MaxRetries, p.CreatedAt, p.UserAgent,
		); err != nil {
			return fmt.Errorf("produto %s: %w", p.ID, err)
		}
		for j, v := range p.Variants {
			if _, err := variantStmt.ExecContext(ctx,
				v.ID, p.ID, j, string(v.Kind), v.OptionName, v.URL, v.Name, v.Price, v.ImageURL, nullInt(v.Stock),
				v.IsAvailable, v.IsMonitoring, nullTime(v.LastChecked), v.TotalChecks, v.SuccessfulChecks, v.ErrorCount, v.SKU, v.Interval.Milliseconds(),
			); err != nil {
				return fmt.Errorf("variante %s: %w", v.ID, err)
			}
		}
	}

	return tx.Commit()
}

// LoadProducts retorna todos os produtos na ordem em que foram salvos
func (db *DB) LoadProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, url, name, image_url, interval_ms, auto_start, max_retries, created_at, user_agent FROM products ORDER BY position")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []models.Product
	index := make(map[string]int)
	for rows.Next() {
		var p models.Product
		var name, imageURL, userAgent sql.NullString
		var intervalMs int64
		var createdAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.URL, &name, &imageURL, &intervalMs, &p.AutoStart, &p.MaxRetries, &createdAt, &userAgent); err != nil {
			return nil, err
		}
		p.Name = name.String
		p.ImageURL = imageURL.String
		p.UserAgent = userAgent.String
		p.Interval = time.Duration(intervalMs) * time.Millisecond
		if createdAt.Valid {
			p.CreatedAt = createdAt.Time
		}
		index[p.ID] = len(products)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := db.conn.QueryContext(ctx,
		`SELECT id, product_id, kind, option_name, url, name, price, image_url, stock, is_available, is_monitoring,
			last_checked, total_checks, successful_checks, error_count, sku, interval_ms
		FROM variants ORDER BY product_id, position`)
	if err != nil {
		return nil, err
	}
	defer vrows.Close()

	for vrows.Next() {
		var v models.Variant
		var productID, kind string
		var optionName, name, price, imageURL, sku sql.NullString
		var stock sql.NullInt64
		var lastChecked sql.NullTime
		var intervalMs sql.NullInt64
		if err := vrows.Scan(&v.ID, &productID, &kind, &optionName, &v.URL, &name, &price, &imageURL, &stock,
			&v.IsAvailable, &v.IsMonitoring, &lastChecked, &v.TotalChecks, &v.SuccessfulChecks, &v.ErrorCount, &sku, &intervalMs); err != nil {
			return nil, err
		}
		i, ok := index[productID]
		if !ok {
			db.logger.Warn("Variante órfã ignorada", logger.String("variant_id", v.ID), logger.String("product_id", productID))
			continue
		}
		v.Kind = models.ParseVariantKind(kind)
		v.OptionName = optionName.String
		v.Name = name.String
		v.Price = price.String
		v.ImageURL = imageURL.String
		v.SKU = sku.String
		v.Interval = time.Duration(intervalMs.Int64) * time.Millisecond
		if stock.Valid {
			n := int(stock.Int64)
			v.Stock = &n
		}
		if lastChecked.Valid {
			v.LastChecked = lastChecked.Time
		}
		products[i].Variants = append(products[i].Variants, v)
	}
	return products, vrows.Err()
}

// SaveEvents substitui o log de eventos (mais recentes primeiro)
func (db *DB) SaveEvents(ctx context.Context, events []models.MonitorEvent) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM monitor_events"); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO monitor_events (id, position, product_id, product_name, variant_id, status, message, timestamp, latency_ms, http_status) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, ev := range events {
		var latency sql.NullInt64
		if ev.Latency != nil {
			latency = sql.NullInt64{Int64: ev.Latency.Milliseconds(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			ev.ID, i, ev.ProductID, ev.ProductName, ev.VariantID, string(ev.Status), ev.Message, ev.Timestamp, latency, nullInt(ev.HTTPStatus),
		); err != nil {
			return fmt.Errorf("evento %s: %w", ev.ID, err)
		}
	}

	return tx.Commit()
}

// LoadEvents retorna o log salvo, mais recentes primeiro
func (db *DB) LoadEvents(ctx context.Context) ([]models.MonitorEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, product_id, product_name, variant_id, status, message, timestamp, latency_ms, http_status FROM monitor_events ORDER BY position")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.MonitorEvent
	for rows.Next() {
		var ev models.MonitorEvent
		var productID, productName, variantID, message sql.NullString
		var status string
		var latency, httpStatus sql.NullInt64
		if err := rows.Scan(&ev.ID, &productID, &productName, &variantID, &status, &message, &ev.Timestamp, &latency, &httpStatus); err != nil {
			return nil, err
		}
		ev.ProductID = productID.String
		ev.ProductName = productName.String
		ev.VariantID = variantID.String
		ev.Status = models.EventStatus(status)
		ev.Message = message.String
		if latency.Valid {
			d := time.Duration(latency.Int64) * time.Millisecond
			ev.Latency = &d
		}
		if httpStatus.Valid {
			code := int(httpStatus.Int64)
			ev.HTTPStatus = &code
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
