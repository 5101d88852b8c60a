package infra

import (
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/jinzhu/gorm"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fixkar/hubble/domain/model"
)

// ticketRow is one physical row of the append-style ticket log. Seq
// provides the physical order; the latest row per ticket_id is the
// authoritative state.
type ticketRow struct {
	Seq           uint   `gorm:"primary_key"`
	TicketID      string `gorm:"column:ticket_id;type:varchar(20);index"`
	ThreadLink    string `gorm:"column:thread_link;type:text"`
	Requester     string `gorm:"column:requester_display;type:varchar(100)"`
	Status        string `gorm:"column:status;type:varchar(20)"`
	Priority      string `gorm:"column:priority;type:varchar(20)"`
	Assignee      string `gorm:"column:assignee_display;type:varchar(100)"`
	CreatedAt     string `gorm:"column:created_at;type:varchar(20)"`
	FirstResponse string `gorm:"column:first_response;type:text"`
	ResolvedAt    string `gorm:"column:resolved_at;type:varchar(20)"`
	Description   string `gorm:"column:description;type:text"`
	ChannelID     string `gorm:"column:channel_id;type:varchar(50)"`
	ChannelName   string `gorm:"column:channel_name;type:varchar(100)"`
	CustomFields  string `gorm:"column:custom_fields_json;type:text"`
	InternalRef   string `gorm:"column:internal_message_ref;type:varchar(100)"`
}

func (ticketRow) TableName() string {
	return "ticket_rows"
}

type ticketCounter struct {
	Name  string `gorm:"primary_key;type:varchar(50)"`
	Value int64
}

type DataBase struct {
	db *gorm.DB
}

func NewDataBase() (*DataBase, error) {
	dbpath := "./db/hubble.db"
	if os.Getenv("DB_PATH") != "" {
		dbpath = os.Getenv("DB_PATH")
	}
	if !path.IsAbs(dbpath) {
		dbpath = path.Join(os.Getenv("PWD"), dbpath)
	}
	db, err := gorm.Open("sqlite3", dbpath)
	if err != nil {
		return nil, err
	}
	db.AutoMigrate(&ticketRow{})
	db.AutoMigrate(&ticketCounter{})
	db.AutoMigrate(&model.ChannelConfig{})
	db.AutoMigrate(&model.FieldDescriptor{})
	return &DataBase{db: db}, nil
}

func rowFromTicket(t *model.Ticket) *ticketRow {
	return &ticketRow{
		TicketID:      t.TicketID,
		ThreadLink:    t.ThreadLink,
		Requester:     t.Requester,
		Status:        t.Status,
		Priority:      t.Priority,
		Assignee:      t.Assignee,
		CreatedAt:     t.CreatedAt,
		FirstResponse: t.FirstResponse,
		ResolvedAt:    t.ResolvedAt,
		Description:   t.Description,
		ChannelID:     t.ChannelID,
		ChannelName:   t.ChannelName,
		CustomFields:  t.CustomFieldsJSON,
		InternalRef:   t.InternalRef,
	}
}

func (r *ticketRow) ticket() model.Ticket {
	return model.Ticket{
		TicketID:         r.TicketID,
		ThreadLink:       r.ThreadLink,
		Requester:        r.Requester,
		Status:           r.Status,
		Priority:         r.Priority,
		Assignee:         r.Assignee,
		CreatedAt:        r.CreatedAt,
		FirstResponse:    r.FirstResponse,
		ResolvedAt:       r.ResolvedAt,
		Description:      r.Description,
		ChannelID:        r.ChannelID,
		ChannelName:      r.ChannelName,
		CustomFieldsJSON: r.CustomFields,
		InternalRef:      r.InternalRef,
	}
}

func (d *DataBase) AppendTicket(t *model.Ticket) error {
	var count int
	if err := d.db.Model(&ticketRow{}).Where("ticket_id = ?", t.TicketID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateTicket
	}
	return d.db.Create(rowFromTicket(t)).Error
}

func (d *DataBase) GetTickets() ([]model.Ticket, error) {
	var rows []ticketRow
	if err := d.db.Order("seq asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	// Last row per ID wins, order of first occurrence preserved.
	index := map[string]int{}
	var tickets []model.Ticket
	for i := range rows {
		if rows[i].TicketID == "" {
			continue
		}
		if at, ok := index[rows[i].TicketID]; ok {
			tickets[at] = rows[i].ticket()
			continue
		}
		index[rows[i].TicketID] = len(tickets)
		tickets = append(tickets, rows[i].ticket())
	}
	return tickets, nil
}

func (d *DataBase) GetTicket(id string) (*model.Ticket, error) {
	tickets, err := d.GetTickets()
	if err != nil {
		return nil, err
	}
	for i := range tickets {
		if tickets[i].TicketID == id {
			return &tickets[i], nil
		}
	}
	return nil, nil
}

// latestSeq locates the authoritative row for a ticket ID.
func (d *DataBase) latestSeq(id string) (uint, error) {
	var row ticketRow
	err := d.db.Where("ticket_id = ?", id).Order("seq desc").First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return 0, ErrTicketNotFound
	}
	if err != nil {
		return 0, err
	}
	return row.Seq, nil
}

func (d *DataBase) UpdateTicketFields(id string, fields map[model.Column]string) error {
	seq, err := d.latestSeq(id)
	if err != nil {
		return err
	}

	// One write per field, in column order. A failure leaves earlier
	// fields applied: that partial-write window is inherent to the
	// store contract, so surface exactly where it stopped.
	var applied []model.Column
	for _, col := range model.TicketColumns {
		value, ok := fields[col]
		if !ok {
			continue
		}
		if err := d.db.Model(&ticketRow{}).Where("seq = ?", seq).Update(string(col), value).Error; err != nil {
			slog.Error("partial ticket update",
				slog.String("ticket_id", id),
				slog.String("failed_field", string(col)),
				slog.Any("applied_fields", applied))
			return fmt.Errorf("update field %s failed (applied %v): %w", col, applied, err)
		}
		applied = append(applied, col)
	}
	return nil
}

func (d *DataBase) MergeCustomFields(id string, partial map[string]string) error {
	ticket, err := d.GetTicket(id)
	if err != nil {
		return err
	}
	if ticket == nil {
		return ErrTicketNotFound
	}
	merged := ticket.CustomFields()
	for k, v := range partial {
		merged[k] = v
	}
	return d.UpdateTicketFields(id, map[model.Column]string{
		model.ColCustomFields: model.EncodeCustomFields(merged),
	})
}

func (d *DataBase) ClearAllTickets() error {
	return d.db.Delete(&ticketRow{}).Error
}

// NextTicketID is the optional collision-free allocator. The counter
// is authoritative once enabled; it is not reconciled with IDs created
// by max-scan allocation.
func (d *DataBase) NextTicketID() (int64, error) {
	tx := d.db.Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}
	var c ticketCounter
	if err := tx.Where(ticketCounter{Name: "ticket_id"}).FirstOrCreate(&c).Error; err != nil {
		tx.Rollback()
		return 0, err
	}
	c.Value++
	if err := tx.Save(&c).Error; err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return c.Value, nil
}

func (d *DataBase) GetChannelConfig(channelID string) (*model.ChannelConfig, error) {
	var cfg model.ChannelConfig
	err := d.db.Where("channel_id = ?", channelID).First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (d *DataBase) SaveChannelConfig(cfg *model.ChannelConfig) error {
	return d.db.Save(cfg).Error
}

func (d *DataBase) GetFieldTemplate(templateKey string) ([]model.FieldDescriptor, error) {
	var fields []model.FieldDescriptor
	err := d.db.Where("template_key = ?", templateKey).Order("field_order asc").Find(&fields).Error
	if err != nil {
		return nil, err
	}
	return model.SortFields(fields), nil
}

func (d *DataBase) SaveFieldTemplate(fields []model.FieldDescriptor) error {
	for i := range fields {
		if err := d.db.Save(&fields[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
