// Package store implements the wallet store (spec.md §4.2): the single
// source of truth for blocks, transactions, accounts, notes, UTXOs,
// witnesses, payments and notifications, backed by Postgres via pgx/v5.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ccoin/zams/pkg/types"
)

// AddressDeriver generates the next diversified shielded address for an
// FVK; the store delegates to it so this package stays free of curve
// arithmetic (internal/addr owns the actual ZIP32/bech32 codec).
type AddressDeriver interface {
	NextAddress(fvkKey string, cursor uint64) (address string, diversifier [11]byte, nextCursor uint64, err error)
}

// Store is the Postgres-backed wallet store.
type Store struct {
	pool    *pgxpool.Pool
	deriver AddressDeriver
}

// New opens a connection pool against connString and applies the schema.
func New(ctx context.Context, connString string, deriver AddressDeriver) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := &Store{pool: pool, deriver: deriver}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// PutCheckpoint idempotently seeds a starting block for the scanner.
func (s *Store) PutCheckpoint(ctx context.Context, height uint32, hash types.Hash, t uint32, treeBytes []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blocks (height, hash, prevhash, time, tree)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (height) DO UPDATE SET hash = $2, time = $4, tree = $5
	`, height, hash[:], make([]byte, types.HashSize), t, treeBytes)
	if err != nil {
		return fmt.Errorf("store: put checkpoint: %w", err)
	}
	return nil
}

// ImportFVK upserts a full viewing key and returns its id.
func (s *Store) ImportFVK(ctx context.Context, key string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO viewing_keys (key) VALUES ($1)
		ON CONFLICT (key) DO UPDATE SET key = excluded.key
		RETURNING id
	`, key).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: import fvk: %w", err)
	}
	return id, nil
}

// ImportAddress upserts a transparent deposit address and returns the
// account id created for it (fvk_id left NULL).
func (s *Store) ImportAddress(ctx context.Context, address string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (address) VALUES ($1)
		ON CONFLICT (address) DO UPDATE SET address = excluded.address
		RETURNING id
	`, address).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: import address: %w", err)
	}
	return id, nil
}

// NextAddressFor advances fvkID's diversifier cursor past the next valid
// diversifier index and returns the new account and the address derived
// for it.
func (s *Store) NextAddressFor(ctx context.Context, fvkID int64) (int64, string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, "", err
	}
	defer tx.Rollback(ctx)

	var key string
	var cursor uint64
	err = tx.QueryRow(ctx, `SELECT key, diversifier_cursor FROM viewing_keys WHERE id = $1 FOR UPDATE`, fvkID).Scan(&key, &cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", ErrNotFound
	}
	if err != nil {
		return 0, "", err
	}

	address, _, nextCursor, err := s.deriver.NextAddress(key, cursor)
	if errors.Is(err, ErrOutOfDiversifiers) {
		return 0, "", ErrOutOfDiversifiers
	}
	if err != nil {
		return 0, "", fmt.Errorf("store: derive address: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE viewing_keys SET diversifier_cursor = $1 WHERE id = $2`, nextCursor, fvkID); err != nil {
		return 0, "", err
	}

	var accountID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO accounts (address, fvk_id) VALUES ($1, $2)
		RETURNING id
	`, address, fvkID).Scan(&accountID)
	if err != nil {
		return 0, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, "", err
	}
	return accountID, address, nil
}

// Account returns account's address and, if shielded, its FVK id and key.
func (s *Store) Account(ctx context.Context, accountID int64) (types.Account, string, error) {
	var acc types.Account
	var fvkKey *string
	err := s.pool.QueryRow(ctx, `
		SELECT a.id, a.address, a.fvk_id, v.key
		FROM accounts a LEFT JOIN viewing_keys v ON v.id = a.fvk_id
		WHERE a.id = $1
	`, accountID).Scan(&acc.ID, &acc.Address, &acc.FVKID, &fvkKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Account{}, "", ErrNotFound
	}
	if err != nil {
		return types.Account{}, "", err
	}
	if fvkKey == nil {
		return acc, "", nil
	}
	return acc, *fvkKey, nil
}

// ListViewingKeys returns every imported full viewing key, for the
// scanner to attempt trial decryption of each block's shielded outputs
// against (spec.md §4.3 step 5, "for every imported FVK").
func (s *Store) ListViewingKeys(ctx context.Context) ([]types.ViewingKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, key, diversifier_cursor FROM viewing_keys`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ViewingKey
	for rows.Next() {
		var vk types.ViewingKey
		if err := rows.Scan(&vk.ID, &vk.Key, &vk.DiversifierCursor); err != nil {
			return nil, err
		}
		out = append(out, vk)
	}
	return out, rows.Err()
}

// AccountByAddress looks up the account tracking address, used by the
// scanner to resolve a decrypted note or transparent output back to the
// local account_id it credits.
func (s *Store) AccountByAddress(ctx context.Context, address string) (types.Account, error) {
	var acc types.Account
	err := s.pool.QueryRow(ctx, `SELECT id, address, fvk_id FROM accounts WHERE address = $1`, address).Scan(&acc.ID, &acc.Address, &acc.FVKID)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Account{}, ErrNotFound
	}
	if err != nil {
		return types.Account{}, err
	}
	return acc, nil
}

// UnspentNotes returns every unspent note across all accounts, used by
// the scanner to know which leaf positions need a freshly recomputed
// witness after a chunk extends the commitment tree.
func (s *Store) UnspentNotes(ctx context.Context) ([]types.Note, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT n.id, n.tx_id, n.output_index, n.account_id, n.address, n.diversifier, n.position, n.value, n.rcm, n.memo, n.nf, n.is_change, n.height, n.spent_tx, n.payment
		FROM notes n
		WHERE n.spent_tx IS NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Note
	for rows.Next() {
		var n types.Note
		var diversifier, rcm, nf []byte
		if err := rows.Scan(&n.ID, &n.TxID, &n.OutputIndex, &n.AccountID, &n.Address, &diversifier, &n.Position, &n.Value, &rcm, &n.Memo, &nf, &n.IsChange, &n.Height, &n.SpentTx, &n.Payment); err != nil {
			return nil, err
		}
		copy(n.Diversifier[:], diversifier)
		copy(n.Rcm[:], rcm)
		n.Nullifier = types.HashFromBytes(nf)
		out = append(out, n)
	}
	return out, rows.Err()
}

// NotesForAccounts returns every unspent note owned by any of
// accountIDs.
func (s *Store) NotesForAccounts(ctx context.Context, accountIDs []int64) ([]types.Note, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT n.id, n.tx_id, n.output_index, n.account_id, n.address, n.diversifier, n.position, n.value, n.rcm, n.memo, n.nf, n.is_change, n.height, n.spent_tx, n.payment
		FROM notes n
		WHERE n.account_id = ANY($1) AND n.spent_tx IS NULL
	`, accountIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Note
	for rows.Next() {
		var n types.Note
		var diversifier, rcm, nf []byte
		if err := rows.Scan(&n.ID, &n.TxID, &n.OutputIndex, &n.AccountID, &n.Address, &diversifier, &n.Position, &n.Value, &rcm, &n.Memo, &nf, &n.IsChange, &n.Height, &n.SpentTx, &n.Payment); err != nil {
			return nil, err
		}
		copy(n.Diversifier[:], diversifier)
		copy(n.Rcm[:], rcm)
		n.Nullifier = types.HashFromBytes(nf)
		out = append(out, n)
	}
	return out, rows.Err()
}

// HasNullifier reports whether nullifier belongs to a tracked note and,
// if so, whether that note is already marked spent. Notes this wallet
// does not hold answer false with no error (the nullifier isn't ours).
func (s *Store) HasNullifier(ctx context.Context, nullifier types.Hash) (bool, error) {
	var spentTx *int64
	err := s.pool.QueryRow(ctx, `SELECT spent_tx FROM notes WHERE nf = $1`, nullifier[:]).Scan(&spentTx)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return spentTx != nil, nil
}

// AddNullifier marks the note owning nullifier as spent by txHash.
func (s *Store) AddNullifier(ctx context.Context, nullifier, txHash types.Hash, blockHeight uint32) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notes SET spent_tx = (SELECT id FROM transactions WHERE txid = $2)
		WHERE nf = $1
	`, nullifier[:], txHash[:])
	if err != nil {
		return err
	}
	_ = tag
	return nil
}

// ShieldedOutput is one decrypted note produced by a transaction in a
// block being applied.
type ShieldedOutput struct {
	AccountID   int64
	Address     string
	OutputIndex int
	Diversifier [11]byte
	Position    uint64
	Value       uint64
	Rcm         [32]byte
	Memo        []byte
	Nullifier   types.Hash
	IsChange    bool
}

// TransparentOutput is one UTXO credit produced by a transaction.
type TransparentOutput struct {
	AccountID   int64
	Address     string
	OutputIndex int
	Value       int64
	Script      []byte
}

// TransparentSpend references a previously recorded UTXO now spent.
type TransparentSpend struct {
	TxHash      types.Hash
	OutputIndex int
}

// BlockTx is one transaction observed in a block, together with the
// wallet-relevant effects the scanner has already decrypted from it.
type BlockTx struct {
	TxID                types.Hash
	ExpiryHeight        *uint32
	ShieldedOutputs     []ShieldedOutput
	ShieldedNullifiers  []types.Hash
	TransparentOutputs  []TransparentOutput
	TransparentSpends   []TransparentSpend
}

// WitnessRow is one note's authentication path at a given block height.
type WitnessRow struct {
	NoteID      int64
	BlockHeight uint32
	Data        []byte
}

const reorgDepth = types.ReorgDepth

// SaveWitnesses upserts one block height's worth of recomputed witness
// rows, used by the scanner after ApplyBlock to persist the
// authentication paths of every still-unspent note once the commitment
// tree has absorbed the block's new leaves (spec.md §4.3 step 6).
func (s *Store) SaveWitnesses(ctx context.Context, height uint32, witnesses []WitnessRow) error {
	if len(witnesses) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, w := range witnesses {
		if _, err := tx.Exec(ctx, `
			INSERT INTO witnesses (note_id, block_height, data)
			VALUES ($1, $2, $3)
			ON CONFLICT (note_id, block_height) DO UPDATE SET data = $3
		`, w.NoteID, height, w.Data); err != nil {
			return fmt.Errorf("store: save witness: %w", err)
		}
	}
	if height > reorgDepth {
		if _, err := tx.Exec(ctx, `DELETE FROM witnesses WHERE block_height < $1`, height-reorgDepth); err != nil {
			return fmt.Errorf("store: prune witnesses: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ApplyBlock commits a single block's worth of wallet state in one
// transaction: block header, tx metadata, spent-nullifier marks, new
// notes and UTXOs, witness rows, pruning below the retention window and
// clearing spent_tx on expired unmined sends (spec.md §4.2, §4.3 step 6).
func (s *Store) ApplyBlock(ctx context.Context, height uint32, hash, prevHash types.Hash, t uint32, tree []byte, txs []BlockTx, witnesses []WitnessRow, notifications []types.Notification) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var blockID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO blocks (height, hash, prevhash, time, tree)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, height, hash[:], prevHash[:], t, tree).Scan(&blockID)
	if err != nil {
		return fmt.Errorf("store: insert block: %w", err)
	}

	for i, btx := range txs {
		var txRowID int64
		err = tx.QueryRow(ctx, `
			INSERT INTO transactions (txid, block_id, tx_index, expiry_height)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (txid) DO UPDATE SET block_id = $2, tx_index = $3
			RETURNING id
		`, btx.TxID[:], blockID, i, btx.ExpiryHeight).Scan(&txRowID)
		if err != nil {
			return fmt.Errorf("store: upsert tx: %w", err)
		}

		for i, nf := range btx.ShieldedNullifiers {
			var spentAccountID int64
			var spentValue int64
			err := tx.QueryRow(ctx, `
				UPDATE notes SET spent_tx = $2 WHERE nf = $1
				RETURNING account_id, value
			`, nf[:], txRowID).Scan(&spentAccountID, &spentValue)
			if errors.Is(err, pgx.ErrNoRows) {
				continue // nullifier isn't ours
			}
			if err != nil {
				return fmt.Errorf("store: mark spent note: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO notifications (datetime, outgoing, tx_hash, account_id, tx_output_index, amount, block)
				VALUES (now(), TRUE, $1, $2, $3, $4, $5)
				ON CONFLICT (tx_hash, tx_output_index, outgoing) DO NOTHING
			`, btx.TxID[:], spentAccountID, -(i + 1), spentValue, height); err != nil {
				return fmt.Errorf("store: insert debit notification: %w", err)
			}
		}

		for _, out := range btx.ShieldedOutputs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO notes (tx_id, output_index, account_id, address, diversifier, position, value, rcm, memo, nf, is_change, height)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
				ON CONFLICT (tx_id, output_index) DO NOTHING
			`, txRowID, out.OutputIndex, out.AccountID, out.Address, out.Diversifier[:], out.Position, out.Value, out.Rcm[:], out.Memo, out.Nullifier[:], out.IsChange, height); err != nil {
				return fmt.Errorf("store: insert note: %w", err)
			}
		}

		for i, spend := range btx.TransparentSpends {
			var spentAccountID int64
			var spentValue int64
			err := tx.QueryRow(ctx, `
				UPDATE utxos SET spent = TRUE, spent_height = $3
				WHERE tx_hash = $1 AND output_index = $2
				RETURNING account_id, value
			`, spend.TxHash[:], spend.OutputIndex, height).Scan(&spentAccountID, &spentValue)
			if errors.Is(err, pgx.ErrNoRows) {
				continue // input isn't ours
			}
			if err != nil {
				return fmt.Errorf("store: mark spent utxo: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO notifications (datetime, outgoing, tx_hash, account_id, tx_output_index, amount, block)
				VALUES (now(), TRUE, $1, $2, $3, $4, $5)
				ON CONFLICT (tx_hash, tx_output_index, outgoing) DO NOTHING
			`, btx.TxID[:], spentAccountID, -(1000 + i + 1), spentValue, height); err != nil {
				return fmt.Errorf("store: insert debit notification: %w", err)
			}
		}

		for _, out := range btx.TransparentOutputs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO utxos (tx_hash, output_index, account_id, address, value, script, height)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (tx_hash, output_index) DO NOTHING
			`, btx.TxID[:], out.OutputIndex, out.AccountID, out.Address, out.Value, out.Script, height); err != nil {
				return fmt.Errorf("store: insert utxo: %w", err)
			}
		}
	}

	for _, w := range witnesses {
		if _, err := tx.Exec(ctx, `
			INSERT INTO witnesses (note_id, block_height, data) VALUES ($1, $2, $3)
			ON CONFLICT (note_id, block_height) DO UPDATE SET data = $3
		`, w.NoteID, w.BlockHeight, w.Data); err != nil {
			return fmt.Errorf("store: insert witness: %w", err)
		}
	}

	if height > reorgDepth {
		if _, err := tx.Exec(ctx, `DELETE FROM witnesses WHERE block_height < $1`, height-reorgDepth); err != nil {
			return fmt.Errorf("store: prune witnesses: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE notes SET spent_tx = NULL
		FROM transactions t
		WHERE notes.spent_tx = t.id AND t.block_id IS NULL AND t.expiry_height IS NOT NULL AND t.expiry_height < $1
	`, height); err != nil {
		return fmt.Errorf("store: clear expired spends: %w", err)
	}

	for _, n := range notifications {
		if _, err := tx.Exec(ctx, `
			INSERT INTO notifications (datetime, outgoing, tx_hash, account_id, tx_output_index, amount, block)
			VALUES (now(), $1, $2, $3, $4, $5, $6)
			ON CONFLICT (tx_hash, tx_output_index, outgoing) DO NOTHING
		`, n.Outgoing, n.TxHash[:], n.AccountID, n.TxOutputIndex, n.Amount, n.Block); err != nil {
			return fmt.Errorf("store: insert notification: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// RewindTo undoes every block above height: deletes witnesses and
// blocks above it, detaches transactions back to mempool state, and
// reverts UTXOs spent above the new tip.
func (s *Store) RewindTo(ctx context.Context, height uint32) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM witnesses WHERE block_height > $1`, height); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE transactions SET block_id = NULL, tx_index = NULL
		WHERE block_id IN (SELECT id FROM blocks WHERE height > $1)
	`, height); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM blocks WHERE height > $1`, height); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE utxos SET spent = FALSE, spent_height = NULL WHERE spent_height > $1
	`, height); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM utxos WHERE height > $1`, height); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SpendableNote is a shielded note eligible for spending at some anchor.
type SpendableNote struct {
	ID          int64
	Diversifier [11]byte
	Value       uint64
	Rcm         [32]byte
	Witness     []byte
}

// SelectSpendableShielded returns account's notes unspent, unreserved,
// and confirmed with a witness at anchorHeight.
func (s *Store) SelectSpendableShielded(ctx context.Context, accountID int64, anchorHeight uint32) ([]SpendableNote, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT n.id, n.diversifier, n.value, n.rcm, w.data
		FROM notes n
		JOIN transactions t ON t.id = n.tx_id
		JOIN blocks b ON b.id = t.block_id
		JOIN witnesses w ON w.note_id = n.id AND w.block_height = $2
		WHERE n.account_id = $1
		  AND n.spent_tx IS NULL
		  AND n.payment IS NULL
		  AND t.block_id IS NOT NULL
		  AND b.height <= $2
	`, accountID, anchorHeight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []SpendableNote
	for rows.Next() {
		var n SpendableNote
		var diversifier, rcm []byte
		if err := rows.Scan(&n.ID, &diversifier, &n.Value, &rcm, &n.Witness); err != nil {
			return nil, err
		}
		copy(n.Diversifier[:], diversifier)
		copy(n.Rcm[:], rcm)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// SelectSpendableTransparent returns address's unspent, unreserved UTXOs.
func (s *Store) SelectSpendableTransparent(ctx context.Context, address string) ([]types.UTXO, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tx_hash, output_index, account_id, address, value, script, height
		FROM utxos WHERE address = $1 AND NOT spent AND payment IS NULL
	`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.UTXO
	for rows.Next() {
		var u types.UTXO
		var txHash []byte
		if err := rows.Scan(&u.ID, &txHash, &u.OutputIndex, &u.AccountID, &u.Address, &u.Value, &u.Script, &u.Height); err != nil {
			return nil, err
		}
		copy(u.TxHash[:], txHash)
		out = append(out, u)
	}
	return out, rows.Err()
}

// ReservePayment inserts payment and tags the chosen notes/UTXOs with
// its id, retrying once on a serialization failure (spec.md §5).
func (s *Store) ReservePayment(ctx context.Context, payment types.Payment, noteIDs, utxoIDs []int64) (int64, error) {
	id, err := s.reservePaymentOnce(ctx, payment, noteIDs, utxoIDs)
	if isSerializationFailure(err) {
		return s.reservePaymentOnce(ctx, payment, noteIDs, utxoIDs)
	}
	return id, err
}

func (s *Store) reservePaymentOnce(ctx context.Context, payment types.Payment, noteIDs, utxoIDs []int64) (int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO payments (account_id, sender, recipient, change_address, amount)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, payment.AccountID, payment.Sender, payment.Recipient, payment.ChangeAddress, payment.Amount).Scan(&id)
	if err != nil {
		return 0, err
	}

	if len(noteIDs) > 0 {
		tag, err := tx.Exec(ctx, `UPDATE notes SET payment = $1 WHERE id = ANY($2) AND payment IS NULL AND spent_tx IS NULL`, id, noteIDs)
		if err != nil {
			return 0, err
		}
		if tag.RowsAffected() != int64(len(noteIDs)) {
			return 0, ErrReservationFailed
		}
	}
	if len(utxoIDs) > 0 {
		tag, err := tx.Exec(ctx, `UPDATE utxos SET payment = $1 WHERE id = ANY($2) AND payment IS NULL AND NOT spent`, id, utxoIDs)
		if err != nil {
			return 0, err
		}
		if tag.RowsAffected() != int64(len(utxoIDs)) {
			return 0, ErrReservationFailed
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

// ReleasePayment un-reserves every note/UTXO tagged with paymentID and
// sets the payment's paid flag to false; the payment row is kept and
// has no separate cancelled state.
func (s *Store) ReleasePayment(ctx context.Context, paymentID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE notes SET payment = NULL WHERE payment = $1`, paymentID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE utxos SET payment = NULL WHERE payment = $1`, paymentID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE payments SET paid = FALSE WHERE id = $1`, paymentID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FinalizePayment marks paymentID broadcast with the given txid.
func (s *Store) FinalizePayment(ctx context.Context, paymentID int64, txid types.Hash) error {
	tag, err := s.pool.Exec(ctx, `UPDATE payments SET paid = TRUE, txid = $2 WHERE id = $1`, paymentID, txid[:])
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// ListPendingPayments returns the ids of every payment reserved but not
// yet broadcast for accountID.
func (s *Store) ListPendingPayments(ctx context.Context, accountID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM payments WHERE account_id = $1 AND NOT paid`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PaymentInfo looks up a single payment by id.
func (s *Store) PaymentInfo(ctx context.Context, paymentID int64) (types.Payment, error) {
	var p types.Payment
	var txid []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, datetime, account_id, sender, recipient, change_address, amount, paid, txid
		FROM payments WHERE id = $1
	`, paymentID).Scan(&p.ID, &p.Datetime, &p.AccountID, &p.Sender, &p.Recipient, &p.ChangeAddress, &p.Amount, &p.Paid, &txid)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Payment{}, ErrNotFound
	}
	if err != nil {
		return types.Payment{}, err
	}
	if txid != nil {
		h := types.HashFromBytes(txid)
		p.TxID = &h
	}
	return p, nil
}

// Balance is the total and spendable-now value for an account.
type Balance struct {
	Total     int64
	Available int64
}

// Balance sums note and UTXO values confirmed at least minConf blocks
// deep; Available additionally excludes rows reserved by a payment.
func (s *Store) Balance(ctx context.Context, accountID int64, minConf uint32) (Balance, error) {
	var tip *uint32
	if err := s.pool.QueryRow(ctx, `SELECT max(height) FROM blocks`).Scan(&tip); err != nil {
		return Balance{}, err
	}
	if tip == nil {
		return Balance{}, nil
	}
	cutoff := int64(*tip) - int64(minConf)

	var bal Balance
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(value), 0),
			COALESCE(SUM(value) FILTER (WHERE payment IS NULL), 0)
		FROM notes
		WHERE account_id = $1 AND spent_tx IS NULL AND height <= $2
	`, accountID, cutoff).Scan(&bal.Total, &bal.Available)
	if err != nil {
		return Balance{}, err
	}

	var utxoTotal, utxoAvailable int64
	err = s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(value), 0),
			COALESCE(SUM(value) FILTER (WHERE payment IS NULL), 0)
		FROM utxos
		WHERE account_id = $1 AND NOT spent AND height <= $2
	`, accountID, cutoff).Scan(&utxoTotal, &utxoAvailable)
	if err != nil {
		return Balance{}, err
	}

	bal.Total += utxoTotal
	bal.Available += utxoAvailable
	return bal, nil
}

// InsertNotifications batch-inserts notification records, silently
// skipping ones already recorded for the same (tx_hash, output, dir).
func (s *Store) InsertNotifications(ctx context.Context, records []types.Notification) error {
	for _, n := range records {
		var txHashParam interface{}
		if !n.TxHash.IsEmpty() {
			h := n.TxHash
			txHashParam = h[:]
		}
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO notifications (outgoing, tx_hash, account_id, tx_output_index, amount, block)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (tx_hash, tx_output_index, outgoing) DO NOTHING
		`, n.Outgoing, txHashParam, n.AccountID, n.TxOutputIndex, n.Amount, n.Block); err != nil {
			return fmt.Errorf("store: insert notification: %w", err)
		}
	}
	return nil
}

// ListUndelivered returns notifications not yet acknowledged by the
// webhook receiver.
func (s *Store) ListUndelivered(ctx context.Context) ([]types.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, datetime, outgoing, tx_hash, account_id, tx_output_index, amount, block, delivered
		FROM notifications WHERE NOT delivered ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Notification
	for rows.Next() {
		var n types.Notification
		var txHash []byte
		if err := rows.Scan(&n.ID, &n.Datetime, &n.Outgoing, &txHash, &n.AccountID, &n.TxOutputIndex, &n.Amount, &n.Block, &n.Delivered); err != nil {
			return nil, err
		}
		n.TxHash = types.HashFromBytes(txHash)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkDelivered flags a notification as successfully posted.
func (s *Store) MarkDelivered(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE notifications SET delivered = TRUE WHERE id = $1`, id)
	return err
}

// Tip returns the current chain tip height and hash as recorded by the
// scanner, or ok=false if the store has no blocks yet.
func (s *Store) Tip(ctx context.Context) (height uint32, hash types.Hash, ok bool, err error) {
	var hashBytes []byte
	err = s.pool.QueryRow(ctx, `SELECT height, hash FROM blocks ORDER BY height DESC LIMIT 1`).Scan(&height, &hashBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, types.Hash{}, false, nil
	}
	if err != nil {
		return 0, types.Hash{}, false, err
	}
	return height, types.HashFromBytes(hashBytes), true, nil
}

// BlockAt returns the recorded hash/prevhash/tree for height, used by
// the scanner to detect reorgs before applying the next block.
func (s *Store) BlockAt(ctx context.Context, height uint32) (hash, prevHash types.Hash, tree []byte, ok bool, err error) {
	var hashBytes, prevBytes []byte
	err = s.pool.QueryRow(ctx, `SELECT hash, prevhash, tree FROM blocks WHERE height = $1`, height).Scan(&hashBytes, &prevBytes, &tree)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Hash{}, types.Hash{}, nil, false, nil
	}
	if err != nil {
		return types.Hash{}, types.Hash{}, nil, false, err
	}
	return types.HashFromBytes(hashBytes), types.HashFromBytes(prevBytes), tree, true, nil
}
