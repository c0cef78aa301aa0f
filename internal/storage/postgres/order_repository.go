package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const orderColumns = `
	id, order_number, user_id, status, shipping,
	payment_method, payment_status, payment_tx_id,
	subtotal, discount, coupon_deduction, total,
	coupon_code, coupon_amount, version, created_at, updated_at`

const lineColumns = `
	id, product_id, variant_id, name, image, price, old_price, size, color,
	quantity, status, history, cancel_reason, return_reason, review`

type orderRepository struct {
	q querier
}

// shippingRow — JSON-представление адреса доставки.
type shippingRow struct {
	Name              string `json:"name"`
	AddressLine       string `json:"address_line"`
	Locality          string `json:"locality,omitempty"`
	City              string `json:"city"`
	State             string `json:"state"`
	PinCode           string `json:"pin_code"`
	Mobile            string `json:"mobile"`
	AlternativeMobile string `json:"alternative_mobile,omitempty"`
	Landmark          string `json:"landmark,omitempty"`
	Type              string `json:"type,omitempty"`
}

type historyRow struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}

type reviewRow struct {
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (r orderRepository) Create(ctx context.Context, order domain.Order) error {
	shipping, err := json.Marshal(shippingRow(order.Shipping))
	if err != nil {
		return fmt.Errorf("encode shipping: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		order.ID, order.OrderNumber, order.UserID, string(order.Status), shipping,
		string(order.Payment.Method), string(order.Payment.Status), order.Payment.TransactionID,
		order.Prices.Subtotal, order.Prices.Discount, order.Prices.CouponDeduction, order.Prices.Total,
		order.Coupon.Code, order.Coupon.Deduction, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, line := range order.Lines {
		history, review, err := encodeLineState(line)
		if err != nil {
			return err
		}
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO order_lines (
				order_id, position, `+lineColumns+`
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		`,
			order.ID, i,
			line.ID, line.ProductID, line.VariantID, line.Name, line.Image,
			line.Price, line.OldPrice, line.Size, line.Color,
			line.Quantity, string(line.Status), history, line.CancelReason, line.ReturnReason, review,
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderVersionConflict
			}
			return fmt.Errorf("insert order line: %w", err)
		}
	}

	return nil
}

// Get возвращает заказ и блокирует его строку до конца транзакции.
func (r orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	order, err := scanOrder(r.q.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	lines, err := r.loadLines(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines
	return order, nil
}

func (r orderRepository) GetByLineID(ctx context.Context, lineID string) (domain.Order, error) {
	var orderID string
	err := r.q.QueryRowContext(ctx, `SELECT order_id FROM order_lines WHERE id = $1`, lineID).Scan(&orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderLineNotFound
		}
		return domain.Order{}, fmt.Errorf("find line owner: %w", err)
	}
	return r.Get(ctx, orderID)
}

func (r orderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.q.QueryContext(ctx, query+" LIMIT $2", userID, limit)
	} else {
		rows, err = r.q.QueryContext(ctx, query, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return r.collect(ctx, rows)
}

func (r orderRepository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list orders by period: %w", err)
	}
	return r.collect(ctx, rows)
}

func (r orderRepository) ExistsForUser(ctx context.Context, userID string) (bool, error) {
	var exists bool
	if err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE user_id = $1)
	`, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check user orders: %w", err)
	}
	return exists, nil
}

// Save обновляет заказ при совпадении версии и перезаписывает состояние позиций.
func (r orderRepository) Save(ctx context.Context, order domain.Order) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_method = $2,
		    payment_status = $3,
		    payment_tx_id = $4,
		    version = version + 1,
		    updated_at = $5
		WHERE id = $6
		  AND version = $7
	`,
		string(order.Status),
		string(order.Payment.Method),
		string(order.Payment.Status),
		order.Payment.TransactionID,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := rowsAffected(res, "order update")
	if err != nil {
		return err
	}
	if affected == 0 {
		var id string
		err := r.q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, order.ID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("check order exists: %w", err)
		}
		return domain.ErrOrderVersionConflict
	}

	for _, line := range order.Lines {
		history, review, err := encodeLineState(line)
		if err != nil {
			return err
		}
		if _, err := r.q.ExecContext(ctx, `
			UPDATE order_lines
			SET status = $1,
			    history = $2,
			    cancel_reason = $3,
			    return_reason = $4,
			    review = $5
			WHERE id = $6 AND order_id = $7
		`, string(line.Status), history, line.CancelReason, line.ReturnReason, review, line.ID, order.ID); err != nil {
			return fmt.Errorf("update order line %s: %w", line.ID, err)
		}
	}
	return nil
}

// NextSequence увеличивает именованный счётчик одной командой upsert.
func (r orderRepository) NextSequence(ctx context.Context, name string) (int64, error) {
	var value int64
	if err := r.q.QueryRowContext(ctx, `
		INSERT INTO order_counters (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = order_counters.value + 1
		RETURNING value
	`, name).Scan(&value); err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", name, err)
	}
	return value, nil
}

func (r orderRepository) collect(ctx context.Context, rows *sql.Rows) ([]domain.Order, error) {
	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		lines, err := r.loadLines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

// scanOrders дочитывает и закрывает rows до загрузки позиций:
// в транзакции нельзя держать два открытых курсора.
func scanOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

func (r orderRepository) loadLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+lineColumns+`
		FROM order_lines
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var (
			line    domain.OrderLine
			status  string
			history []byte
			review  []byte
		)
		if err := rows.Scan(
			&line.ID, &line.ProductID, &line.VariantID, &line.Name, &line.Image,
			&line.Price, &line.OldPrice, &line.Size, &line.Color,
			&line.Quantity, &status, &history, &line.CancelReason, &line.ReturnReason, &review,
		); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		line.Status = domain.LineStatus(status)
		if err := decodeLineState(&line, history, review); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return lines, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order         domain.Order
		status        string
		shipping      []byte
		paymentMethod string
		paymentStatus string
	)
	if err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &status, &shipping,
		&paymentMethod, &paymentStatus, &order.Payment.TransactionID,
		&order.Prices.Subtotal, &order.Prices.Discount, &order.Prices.CouponDeduction, &order.Prices.Total,
		&order.Coupon.Code, &order.Coupon.Deduction, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	var addr shippingRow
	if err := json.Unmarshal(shipping, &addr); err != nil {
		return domain.Order{}, fmt.Errorf("decode shipping of order %s: %w", order.ID, err)
	}
	order.Shipping = domain.ShippingAddress(addr)
	order.Status = domain.OrderStatus(status)
	order.Payment.Method = domain.PaymentMethod(paymentMethod)
	order.Payment.Status = domain.PaymentStatus(paymentStatus)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func encodeLineState(line domain.OrderLine) (history []byte, review any, err error) {
	entries := make([]historyRow, 0, len(line.History))
	for _, entry := range line.History {
		entries = append(entries, historyRow{Status: string(entry.Status), At: entry.At.UTC(), Note: entry.Note})
	}
	history, err = json.Marshal(entries)
	if err != nil {
		return nil, nil, fmt.Errorf("encode history of line %s: %w", line.ID, err)
	}
	if line.Review != nil {
		encoded, err := json.Marshal(reviewRow(*line.Review))
		if err != nil {
			return nil, nil, fmt.Errorf("encode review of line %s: %w", line.ID, err)
		}
		review = encoded
	}
	return history, review, nil
}

func decodeLineState(line *domain.OrderLine, history, review []byte) error {
	var entries []historyRow
	if err := json.Unmarshal(history, &entries); err != nil {
		return fmt.Errorf("decode history of line %s: %w", line.ID, err)
	}
	line.History = make([]domain.StatusEntry, 0, len(entries))
	for _, entry := range entries {
		line.History = append(line.History, domain.StatusEntry{
			Status: domain.LineStatus(entry.Status),
			At:     entry.At.UTC(),
			Note:   entry.Note,
		})
	}
	if len(review) > 0 {
		var rv reviewRow
		if err := json.Unmarshal(review, &rv); err != nil {
			return fmt.Errorf("decode review of line %s: %w", line.ID, err)
		}
		converted := domain.Review(rv)
		line.Review = &converted
	}
	return nil
}

var _ domain.OrderRepository = orderRepository{}
